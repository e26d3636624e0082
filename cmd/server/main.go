// Answer Book - paid oracle answers with astro hints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/answerbook/internal/answer"
	"github.com/ashureev/answerbook/internal/api"
	"github.com/ashureev/answerbook/internal/catalog"
	"github.com/ashureev/answerbook/internal/config"
	"github.com/ashureev/answerbook/internal/health"
	"github.com/ashureev/answerbook/internal/history"
	"github.com/ashureev/answerbook/internal/identity"
	"github.com/ashureev/answerbook/internal/metrics"
	"github.com/ashureev/answerbook/internal/middleware"
	"github.com/ashureev/answerbook/internal/oracle"
	"github.com/ashureev/answerbook/internal/payment"
	"github.com/ashureev/answerbook/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load catalog", "error", err)
		os.Exit(1)
	}
	seeded, err := repo.SeedCatalog(ctx, cat.Answers, cat.Hints)
	if err != nil {
		slog.Error("Failed to seed catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Catalog seeded", "answers", seeded.Answers, "hints", seeded.Hints)

	var rec *metrics.Recorder
	if cfg.MetricsEnabled {
		rec = metrics.New()
	}

	tracker, err := newTracker(cfg.History, repo)
	if err != nil {
		slog.Error("Failed to initialize answer history", "error", err)
		os.Exit(1)
	}
	sweeper := history.NewSweeper(repo, tracker, cfg.History.Window, cfg.SessionTTL)
	sweeperDone := sweeper.Start(ctx, cfg.History.SweepInterval)

	provider, err := newProvider(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	var orc *oracle.Oracle
	if provider != nil {
		orc = oracle.New(provider, oracle.Settings{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, rec)
		slog.Info("LLM provider configured", "provider", provider.Name(), "model", cfg.LLM.Model)
	} else {
		slog.Info("LLM disabled, serving preset answers")
	}

	gate, err := newGate(cfg.Payment, rec)
	if err != nil {
		slog.Error("Failed to initialize payment gate", "error", err)
		os.Exit(1)
	}
	if !gate.Enabled() {
		slog.Warn("Payment gate disabled, requests are served without payment")
	}

	svc := answer.NewService(repo, tracker, orc, cat.Presets, answer.Config{
		Price:       cfg.Payment.Price,
		StreamDelay: cfg.StreamDelay,
	}, rec)

	handler := api.NewHandler(svc, gate, repo, api.Options{
		LLMProvider:    cfg.LLM.Provider,
		ShareTargetURL: cfg.ShareTargetURL,
		OriginPatterns: originPatterns(cfg.AllowedOrigins),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(repo, cfg.SessionTTL, cfg.IsDevelopment()))
	r.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst))

	handler.RegisterRoutes(r)
	if rec != nil {
		r.Handle("/metrics", rec.Handler())
	}

	// Note: SSE and WebSocket streams require WriteTimeout 0.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	healthDone := make(chan struct{})
	if cfg.GRPCHealthAddr != "" {
		hs := health.NewServer(repo, 10*time.Second)
		go func() {
			defer close(healthDone)
			if err := hs.Run(ctx, cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	} else {
		close(healthDone)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-sweeperDone
	<-healthDone

	slog.Info("Server stopped successfully")
}

func newTracker(cfg config.HistoryConfig, repo store.Repository) (history.Tracker, error) {
	switch cfg.Backend {
	case config.HistoryMemory:
		return history.NewMemoryTracker(cfg.MaxSessions, cfg.Window, cfg.Limit)
	case config.HistorySQLite:
		return history.NewSQLTracker(repo, cfg.Window, cfg.Limit), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

func newProvider(ctx context.Context, cfg config.LLMConfig) (oracle.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return oracle.NewOpenAIProvider(oracle.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case config.ProviderGemini:
		return oracle.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.Model)
	case config.ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func newGate(cfg config.PaymentConfig, rec *metrics.Recorder) (*payment.Gate, error) {
	opts := payment.Options{
		PayTo:       cfg.PayTo,
		Price:       cfg.Price,
		Network:     cfg.Network,
		Description: cfg.Description,
	}
	if !cfg.Enabled() {
		return payment.NewGate(opts, nil, nil, rec)
	}
	// Challenges are optional; without a secret clients pay with X-PAYMENT alone.
	var challenger *payment.Challenger
	if cfg.Secret != "" {
		var err error
		challenger, err = payment.NewChallenger(cfg.Secret, cfg.ChallengeTTL)
		if err != nil {
			return nil, err
		}
	}
	return payment.NewGate(opts, payment.NewHTTPFacilitator(cfg.FacilitatorURL, 15*time.Second), challenger, rec)
}

// originPatterns converts CORS origins into WebSocket host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
