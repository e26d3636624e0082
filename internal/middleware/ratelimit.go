package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/answerbook/internal/identity"
	"golang.org/x/time/rate"
)

const (
	limiterEntryTTL        = 15 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds one token bucket per key. Idle buckets are dropped
// lazily on access.
type KeyedLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*limiterEntry
	lastCleanup time.Time
	now         func() time.Time
}

// NewKeyedLimiter allows rpm requests per minute per key with the given burst.
func NewKeyedLimiter(rpm, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limit:       rate.Every(time.Minute / time.Duration(rpm)),
		burst:       burst,
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether a request for key may proceed.
func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil || key == "" {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= limiterCleanupInterval {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterEntryTTL {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RateLimit limits requests per established session and otherwise per
// client IP, so rotating or dropping the session cookie does not reset the
// bucket. A zero rpm or burst disables limiting.
func RateLimit(rpm, burst int) func(http.Handler) http.Handler {
	if rpm <= 0 || burst <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := NewKeyedLimiter(rpm, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(rateLimitKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if id := identity.SessionIDFromContext(r.Context()); id != "" && !identity.IsNewSession(r.Context()) {
		return "session:" + id
	}
	if ip := identity.IPFromRequest(r); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}
