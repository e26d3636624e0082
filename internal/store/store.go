// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
)

// Repository defines the interface for the answer catalog and session log.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// SeedCatalog upserts answers and astro hints by id.
	SeedCatalog(ctx context.Context, answers []domain.Answer, hints []domain.AstroHint) (SeedResult, error)

	// CountAnswers returns the number of stored answers.
	CountAnswers(ctx context.Context) (int64, error)

	// ListAnswers returns answers tagged with the category. Random returns every answer.
	ListAnswers(ctx context.Context, category domain.Category) ([]domain.Answer, error)

	// ListAstroHints returns every hint for a zodiac sign.
	ListAstroHints(ctx context.Context, sign string) ([]domain.AstroHint, error)

	// GetSession retrieves a session by id. Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// TouchSession creates the session row or updates its last_seen_at.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// RecordServed appends an entry to the session's served-answer log.
	RecordServed(ctx context.Context, served domain.ServedAnswer) error

	// RecentServed returns up to limit answer ids served to the session since
	// the given time, newest first.
	RecentServed(ctx context.Context, sessionID string, since time.Time, limit int) ([]int64, error)

	// DeleteServedBefore removes served-answer entries older than before.
	DeleteServedBefore(ctx context.Context, before time.Time) (int64, error)

	// DeleteSessionsBefore removes sessions last seen before the given time.
	DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error)
}

// SeedResult reports how many catalog rows were written.
type SeedResult struct {
	Answers int64 `json:"answers"`
	Hints   int64 `json:"hints"`
}
