package domain

import "time"

// Session is the server-side record addressed by the opaque cookie token.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ServedAnswer is one entry of a session's anti-repeat log.
type ServedAnswer struct {
	SessionID  string    `json:"session_id"`
	AnswerID   int64     `json:"answer_id"`
	ZodiacSign string    `json:"zodiac_sign"`
	ServedAt   time.Time `json:"served_at"`
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastSeenAt) > ttl
}
