package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/answerbook/internal/store"
)

// Pruner is implemented by trackers that hold expirable state in memory.
type Pruner interface {
	Prune(now time.Time) int
}

// Sweeper removes served-answer entries past the anti-repeat window and
// sessions idle past the session TTL.
type Sweeper struct {
	repo       store.Repository
	tracker    Tracker
	window     time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// NewSweeper creates a sweeper. tracker may be nil.
func NewSweeper(repo store.Repository, tracker Tracker, window, sessionTTL time.Duration, opts ...Option) *Sweeper {
	o := buildOptions(opts)
	return &Sweeper{
		repo:       repo,
		tracker:    tracker,
		window:     window,
		sessionTTL: sessionTTL,
		now:        o.now,
	}
}

// SweepResult counts what one sweep removed.
type SweepResult struct {
	ServedDeleted   int64
	SessionsDeleted int64
	MemoryPruned    int
}

// SweepOnce runs a single cleanup pass. Failures are logged, not returned,
// so one failing step does not block the others.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	var res SweepResult
	now := s.now()

	if n, err := s.repo.DeleteServedBefore(ctx, now.Add(-s.window)); err != nil {
		slog.Error("History sweeper failed to delete served answers", "error", err)
	} else {
		res.ServedDeleted = n
	}

	if n, err := s.repo.DeleteSessionsBefore(ctx, now.Add(-s.sessionTTL)); err != nil {
		slog.Error("History sweeper failed to delete idle sessions", "error", err)
	} else {
		res.SessionsDeleted = n
	}

	if p, ok := s.tracker.(Pruner); ok {
		res.MemoryPruned = p.Prune(now)
	}

	if res.ServedDeleted > 0 || res.SessionsDeleted > 0 || res.MemoryPruned > 0 {
		slog.Info("History sweep completed",
			"served_deleted", res.ServedDeleted,
			"sessions_deleted", res.SessionsDeleted,
			"memory_pruned", res.MemoryPruned)
	}
	return res
}

// Start runs SweepOnce every interval until ctx is cancelled. The returned
// channel is closed once the worker has exited.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("History sweeper started", "interval", interval, "window", s.window, "session_ttl", s.sessionTTL)

		for {
			select {
			case <-ticker.C:
				s.SweepOnce(ctx)
			case <-ctx.Done():
				slog.Info("History sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
