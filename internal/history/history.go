// Package history tracks which answers each session has recently been served.
package history

import (
	"context"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/store"
)

// Tracker records served answers and reports the recent ones for a session.
type Tracker interface {
	// Recent returns answer ids served within the window, newest first,
	// bounded to the tracker's limit.
	Recent(ctx context.Context, sessionID string) ([]int64, error)

	// Record appends a served answer to the session's history.
	Record(ctx context.Context, served domain.ServedAnswer) error
}

// Option configures a tracker.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SQLTracker keeps history in the repository's session_answers log.
type SQLTracker struct {
	repo   store.Repository
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewSQLTracker creates a repository-backed tracker.
func NewSQLTracker(repo store.Repository, window time.Duration, limit int, opts ...Option) *SQLTracker {
	o := buildOptions(opts)
	return &SQLTracker{repo: repo, window: window, limit: limit, now: o.now}
}

// Recent returns ids served to the session within the window.
func (t *SQLTracker) Recent(ctx context.Context, sessionID string) ([]int64, error) {
	if sessionID == "" {
		return nil, nil
	}
	return t.repo.RecentServed(ctx, sessionID, t.now().Add(-t.window), t.limit)
}

// Record appends to the log, stamping ServedAt when unset.
func (t *SQLTracker) Record(ctx context.Context, served domain.ServedAnswer) error {
	if served.SessionID == "" {
		return nil
	}
	if served.ServedAt.IsZero() {
		served.ServedAt = t.now()
	}
	return t.repo.RecordServed(ctx, served)
}
