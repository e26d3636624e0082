// Package identity provides anonymous per-device session identity.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/answerbook/internal/store"
	"github.com/google/uuid"
)

const (
	// SessionCookieName holds the opaque session token.
	SessionCookieName = "ab_session"
	// DefaultSessionTTL is the cookie lifetime when none is configured.
	DefaultSessionTTL = 30 * 24 * time.Hour
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	newSessionKey
)

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying the session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// IsNewSession reports whether the request's session was minted for it or is
// unknown to the store. Such sessions cost a client nothing to rotate.
func IsNewSession(ctx context.Context) bool {
	v, _ := ctx.Value(newSessionKey).(bool)
	return v
}

func withNewSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, newSessionKey, true)
}

func isValidSessionID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.Version() == 4 && parsed.String() == id
}

func setSessionCookie(w http.ResponseWriter, id string, ttl time.Duration, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateSessionID returns the cookie's session id, minting a new one when
// the cookie is missing or malformed. The cookie is refreshed either way.
func getOrCreateSessionID(w http.ResponseWriter, r *http.Request, ttl time.Duration, isDev bool) (id string, minted bool) {
	if c, err := r.Cookie(SessionCookieName); err == nil && isValidSessionID(c.Value) {
		id = c.Value
	} else {
		id, minted = uuid.NewString(), true
	}
	setSessionCookie(w, id, ttl, isDev)
	return id, minted
}

// knownSession reports whether the store already holds sessionID. Lookup
// failures count as unknown.
func knownSession(ctx context.Context, repo store.Repository, sessionID string) bool {
	sess, err := repo.GetSession(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to look up session", "session_id", sessionID, "error", err)
		return false
	}
	return sess != nil
}

// Middleware injects an anonymous session ID and records the session as seen.
// Sessions minted here, or presented but unknown to the store, are flagged
// new. A failed touch is logged; the request still proceeds since anti-repeat
// is best effort.
func Middleware(repo store.Repository, ttl time.Duration, isDev bool) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, isNew := getOrCreateSessionID(w, r, ttl, isDev)
			ctx := r.Context()

			if repo != nil {
				if !isNew && !knownSession(ctx, repo, sessionID) {
					isNew = true
				}
				if err := repo.TouchSession(ctx, sessionID, time.Now()); err != nil {
					slog.Warn("Failed to touch session", "session_id", sessionID, "error", err)
				}
			}

			ctx = WithSessionID(ctx, sessionID)
			if isNew {
				ctx = withNewSession(ctx)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
