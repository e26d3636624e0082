// Package api provides HTTP handlers for the Answer Book API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/answerbook/internal/answer"
	"github.com/ashureev/answerbook/internal/payment"
	"github.com/ashureev/answerbook/internal/store"
	"github.com/go-chi/chi/v5"
)

// Options carries the request-independent settings handlers report or use.
type Options struct {
	LLMProvider    string
	ShareTargetURL string
	// OriginPatterns are accepted on the WebSocket handshake.
	OriginPatterns     []string
	HealthCheckTimeout time.Duration
}

// Handler serves the Answer Book routes.
type Handler struct {
	svc      *answer.Service
	gate     *payment.Gate
	repo     store.Repository
	validate *requestValidator
	opts     Options
}

// NewHandler creates a Handler.
func NewHandler(svc *answer.Service, gate *payment.Gate, repo store.Repository, opts Options) *Handler {
	if opts.ShareTargetURL == "" {
		opts.ShareTargetURL = defaultShareTarget
	}
	if opts.HealthCheckTimeout <= 0 {
		opts.HealthCheckTimeout = 5 * time.Second
	}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}
	return &Handler{svc: svc, gate: gate, repo: repo, validate: newRequestValidator(), opts: opts}
}

// Paid route resources.
const (
	ResourceAnswer       = "/api/answer"
	ResourceConsult      = "/api/consult"
	ResourceAnswerStream = "/api/answer/stream"
	ResourceAsk          = "/api/ask"
	ResourceAnswerWS     = "/ws/answer"
)

// RegisterRoutes mounts every route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	paid := func(resource string) func(http.Handler) http.Handler {
		return h.gate.Middleware(resource)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(paid(ResourceAnswer)).Post("/answer", h.Answer)
		r.With(paid(ResourceConsult)).Post("/consult", h.Consult)
		r.With(paid(ResourceAnswerStream)).Post("/answer/stream", h.StreamAnswer)
		r.With(paid(ResourceAsk)).Post("/ask", h.Ask)
		r.Post("/fortune", h.Fortune)
		r.Get("/sunsign", h.SunSign)
		r.Get("/config", h.Config)
		r.Get("/health", h.Health)
	})
	// Browsers cannot set X-PAYMENT on a WebSocket handshake; this route is for agents.
	r.With(paid(ResourceAnswerWS)).Get("/ws/answer", h.ServeWebSocket)
	r.Get("/share", h.Share)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// serviceError maps a service failure to a response. Only an empty pool is
// reported by name; anything else is logged and hidden.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, answer.ErrNoAnswers) {
		slog.Error("No answers configured", "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "No answers available")
		return
	}
	slog.Error("Request failed", "path", r.URL.Path, "error", err)
	Error(w, http.StatusInternalServerError, "Internal server error")
}
