package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

type servedEntry struct {
	answerID int64
	at       time.Time
}

// sessionLog is a bounded, oldest-first list of served answers. A log that
// Prune has detached from the cache is marked removed and must not be written.
type sessionLog struct {
	mu      sync.Mutex
	entries []servedEntry
	removed bool
}

// MemoryTracker keeps per-session history in an LRU bounded by session count.
// Each session keeps at most limit entries; entries older than window are
// ignored on read and dropped by Prune.
type MemoryTracker struct {
	cache  *lru.Cache[string, *sessionLog]
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewMemoryTracker creates an in-memory tracker holding up to maxSessions sessions.
func NewMemoryTracker(maxSessions int, window time.Duration, limit int, opts ...Option) (*MemoryTracker, error) {
	cache, err := lru.New[string, *sessionLog](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("create history cache: %w", err)
	}
	o := buildOptions(opts)
	return &MemoryTracker{cache: cache, window: window, limit: limit, now: o.now}, nil
}

// Recent returns ids served within the window, newest first.
func (t *MemoryTracker) Recent(_ context.Context, sessionID string) ([]int64, error) {
	log, ok := t.cache.Get(sessionID)
	if !ok {
		return nil, nil
	}
	cutoff := t.now().Add(-t.window)

	log.mu.Lock()
	defer log.mu.Unlock()
	ids := make([]int64, 0, len(log.entries))
	for i := len(log.entries) - 1; i >= 0; i-- {
		e := log.entries[i]
		if e.at.Before(cutoff) {
			continue
		}
		ids = append(ids, e.answerID)
		if t.limit > 0 && len(ids) == t.limit {
			break
		}
	}
	return ids, nil
}

// Record appends to the session's log, trimming it to the limit.
func (t *MemoryTracker) Record(_ context.Context, served domain.ServedAnswer) error {
	if served.SessionID == "" {
		return nil
	}
	at := served.ServedAt
	if at.IsZero() {
		at = t.now()
	}

	for {
		log := t.logFor(served.SessionID)
		log.mu.Lock()
		if log.removed {
			log.mu.Unlock()
			continue
		}
		log.entries = append(log.entries, servedEntry{answerID: served.AnswerID, at: at})
		if t.limit > 0 && len(log.entries) > t.limit {
			log.entries = append(log.entries[:0:0], log.entries[len(log.entries)-t.limit:]...)
		}
		log.mu.Unlock()
		return nil
	}
}

func (t *MemoryTracker) logFor(sessionID string) *sessionLog {
	fresh := &sessionLog{}
	log, found, _ := t.cache.PeekOrAdd(sessionID, fresh)
	if !found {
		return fresh
	}
	// Bump recency.
	t.cache.Get(sessionID)
	return log
}

// Prune drops expired entries and empty sessions. It returns the number of
// sessions removed.
func (t *MemoryTracker) Prune(now time.Time) int {
	cutoff := now.Add(-t.window)
	removed := 0
	for _, key := range t.cache.Keys() {
		log, ok := t.cache.Peek(key)
		if !ok {
			continue
		}
		log.mu.Lock()
		keep := log.entries[:0]
		for _, e := range log.entries {
			if !e.at.Before(cutoff) {
				keep = append(keep, e)
			}
		}
		log.entries = keep
		if len(keep) == 0 {
			// Detach under the log's lock so a concurrent Record retries on a new log.
			log.removed = true
			t.cache.Remove(key)
			removed++
		}
		log.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked sessions.
func (t *MemoryTracker) Len() int {
	return t.cache.Len()
}
