// Package storetest provides an in-memory store.Repository for tests.
package storetest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/store"
)

// Fake is a concurrency-safe in-memory repository. Set Err to make every
// call fail with it.
type Fake struct {
	mu       sync.Mutex
	answers  map[int64]domain.Answer
	hints    map[int64]domain.AstroHint
	sessions map[string]*domain.Session
	served   []domain.ServedAnswer

	Err     error
	PingErr error
	Touches int
}

var _ store.Repository = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		answers:  make(map[int64]domain.Answer),
		hints:    make(map[int64]domain.AstroHint),
		sessions: make(map[string]*domain.Session),
	}
}

func (f *Fake) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PingErr
}

func (f *Fake) Close() error { return nil }

// SetPingErr changes the Ping result while other goroutines may be checking health.
func (f *Fake) SetPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PingErr = err
}

func (f *Fake) SeedCatalog(_ context.Context, answers []domain.Answer, hints []domain.AstroHint) (store.SeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return store.SeedResult{}, f.Err
	}
	for _, a := range answers {
		f.answers[a.ID] = a
	}
	for _, h := range hints {
		f.hints[h.ID] = h
	}
	return store.SeedResult{Answers: int64(len(answers)), Hints: int64(len(hints))}, nil
}

func (f *Fake) CountAnswers(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.answers)), f.Err
}

func (f *Fake) ListAnswers(_ context.Context, category domain.Category) ([]domain.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []domain.Answer
	for _, a := range f.answers {
		if !category.Filters() || a.HasTag(category) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) ListAstroHints(_ context.Context, sign string) ([]domain.AstroHint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []domain.AstroHint
	for _, h := range f.hints {
		if h.ZodiacSign == sign {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s := f.sessions[sessionID]
	if s == nil {
		return nil, nil
	}
	copy := *s
	return &copy, nil
}

func (f *Fake) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Touches++
	if s := f.sessions[sessionID]; s != nil {
		s.LastSeenAt = at
		return nil
	}
	f.sessions[sessionID] = &domain.Session{ID: sessionID, CreatedAt: at, LastSeenAt: at}
	return nil
}

func (f *Fake) RecordServed(_ context.Context, served domain.ServedAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.served = append(f.served, served)
	return nil
}

func (f *Fake) RecentServed(_ context.Context, sessionID string, since time.Time, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var ids []int64
	for _, s := range slices.Backward(f.served) {
		if s.SessionID != sessionID || s.ServedAt.Before(since) {
			continue
		}
		ids = append(ids, s.AnswerID)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *Fake) DeleteServedBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	n := len(f.served)
	f.served = slices.DeleteFunc(f.served, func(s domain.ServedAnswer) bool { return s.ServedAt.Before(before) })
	return int64(n - len(f.served)), nil
}

func (f *Fake) DeleteSessionsBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	var n int64
	for id, s := range f.sessions {
		if s.LastSeenAt.Before(before) {
			delete(f.sessions, id)
			f.served = slices.DeleteFunc(f.served, func(sa domain.ServedAnswer) bool { return sa.SessionID == id })
			n++
		}
	}
	return n, nil
}

// Served returns a copy of the served-answer log, oldest first.
func (f *Fake) Served() []domain.ServedAnswer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.served)
}
