// Package health exposes the standard gRPC health service, driven by
// periodic database pings.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/answerbook/internal/store"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported alongside the overall "" entry.
const ServiceName = "answerbook.Answer"

const pingTimeout = 2 * time.Second

// Server serves grpc.health.v1.Health.
type Server struct {
	repo     store.Repository
	interval time.Duration
	health   *grpchealth.Server
	grpc     *grpc.Server
}

// NewServer creates a Server probing repo every interval.
func NewServer(repo store.Repository, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := grpchealth.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{repo: repo, interval: interval, health: hs, grpc: gs}
}

// Check pings the store once and updates the reported status.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.repo.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Check(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	err := s.grpc.Serve(lis)
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("serve gRPC health: %w", err)
	}
	return nil
}
