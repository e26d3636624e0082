// Package answer composes sun-sign classification, text generation and the
// weighted answer pools into the Answer Book operations.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/answerbook/internal/astro"
	"github.com/ashureev/answerbook/internal/catalog"
	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/history"
	"github.com/ashureev/answerbook/internal/metrics"
	"github.com/ashureev/answerbook/internal/oracle"
	"github.com/ashureev/answerbook/internal/selection"
	"github.com/ashureev/answerbook/internal/store"
)

// ErrNoAnswers means the category has no configured answers at all.
var ErrNoAnswers = errors.New("no answers available")

// Request is one paid question.
type Request struct {
	Profile   domain.Profile
	Question  domain.Question
	SessionID string
	TxRef     *string
}

// Config holds the request-independent settings of a Service.
type Config struct {
	Price       string
	StreamDelay time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRandom replaces the random source used for every pick.
func WithRandom(rnd selection.Float64) Option {
	return func(s *Service) { s.rnd = rnd }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service answers questions.
type Service struct {
	repo    store.Repository
	tracker history.Tracker
	oracle  *oracle.Oracle
	presets catalog.Presets
	cfg     Config
	metrics *metrics.Recorder
	rnd     selection.Float64
	now     func() time.Time
}

// NewService creates a Service. tracker and rec may be nil.
func NewService(repo store.Repository, tracker history.Tracker, o *oracle.Oracle, presets catalog.Presets, cfg Config, rec *metrics.Recorder, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		tracker: tracker,
		oracle:  o,
		presets: presets,
		cfg:     cfg,
		metrics: rec,
		rnd:     selection.Default,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer produces an answer and astro hint for a paid question. Generation
// failures fall back to the weighted pool; only an empty pool is an error.
func (s *Service) Answer(ctx context.Context, req Request) (*domain.AnswerResult, error) {
	sign := astro.ClassifySunSign(req.Profile.BirthDate)
	category := normalizeCategory(req.Question.Category)

	if s.oracle.Enabled() {
		var reply oracle.AnswerReply
		res := s.oracle.GenerateJSON(ctx, oracle.AnswerPrompt(req.Profile, req.Question, sign.String()), &reply)
		if res.OK() && strings.TrimSpace(reply.Answer) != "" {
			hint := strings.TrimSpace(reply.AstroHint)
			var hintPtr *string
			if hint != "" {
				hintPtr = &hint
			} else {
				hintPtr = s.pickHint(ctx, sign, category)
			}
			s.metrics.AnswerServed(domain.SourceAI, category.String())
			return s.result(strings.TrimSpace(reply.Answer), hintPtr, sign, domain.SourceAI, 0, req.TxRef), nil
		}
	}

	return s.presetAnswer(ctx, req, sign, category)
}

func (s *Service) presetAnswer(ctx context.Context, req Request, sign astro.Sign, category domain.Category) (*domain.AnswerResult, error) {
	chosen, err := s.pickAnswer(ctx, req.SessionID, category)
	if err != nil {
		return nil, err
	}
	hint := s.pickHint(ctx, sign, category)
	s.recordServed(ctx, req.SessionID, chosen.ID, sign)
	s.metrics.AnswerServed(domain.SourcePreset, category.String())
	return s.result(chosen.Text, hint, sign, domain.SourcePreset, chosen.ID, req.TxRef), nil
}

func (s *Service) result(text string, hint *string, sign astro.Sign, source string, answerID int64, txRef *string) *domain.AnswerResult {
	return &domain.AnswerResult{
		Answer:     text,
		AstroHint:  hint,
		Cost:       s.cfg.Price,
		TxRef:      txRef,
		SunSign:    sign.String(),
		Disclaimer: domain.Disclaimer,
		Source:     source,
		AnswerID:   answerID,
	}
}

// PickAnswer selects from the category pool, avoiding answers the session
// saw recently when anything else is left.
func (s *Service) PickAnswer(ctx context.Context, sessionID string, category domain.Category) (domain.Answer, error) {
	return s.pickAnswer(ctx, sessionID, normalizeCategory(category))
}

func (s *Service) pickAnswer(ctx context.Context, sessionID string, category domain.Category) (domain.Answer, error) {
	pool, err := s.repo.ListAnswers(ctx, category)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("list answers: %w", err)
	}

	var recent []int64
	if s.tracker != nil && sessionID != "" {
		recent, err = s.tracker.Recent(ctx, sessionID)
		if err != nil {
			slog.Warn("Failed to load answer history, selecting without exclusions", "session_id", sessionID, "error", err)
			recent = nil
		}
	}

	keep := selection.Exclude(recent, func(a domain.Answer) int64 { return a.ID })
	chosen, fellBack, err := selection.Select(pool, keep, domain.AnswerWeight, s.rnd)
	if errors.Is(err, selection.ErrNoCandidates) {
		return domain.Answer{}, fmt.Errorf("%w for category %s", ErrNoAnswers, category)
	}
	if err != nil {
		return domain.Answer{}, err
	}
	if fellBack {
		slog.Debug("Every answer in the pool was served recently, repeating", "session_id", sessionID, "category", category)
	}
	return chosen, nil
}

// pickHint selects a hint for the sign, preferring the category. Unknown
// signs get no hint; a known sign with an empty pool gets the preset one.
func (s *Service) pickHint(ctx context.Context, sign astro.Sign, category domain.Category) *string {
	if !sign.Known() {
		return nil
	}
	pool, err := s.repo.ListAstroHints(ctx, sign.String())
	if err != nil {
		slog.Warn("Failed to load astro hints", "sun_sign", sign, "error", err)
		pool = nil
	}

	var keep func(domain.AstroHint) bool
	if category.Filters() {
		keep = func(h domain.AstroHint) bool { return h.Category == category }
	}
	hint, _, err := selection.Select(pool, keep, domain.HintWeight, s.rnd)
	text := hint.Text
	if err != nil {
		text = s.presets.ConsultHintFor(sign.String())
	}
	if text == "" {
		return nil
	}
	return &text
}

func (s *Service) recordServed(ctx context.Context, sessionID string, answerID int64, sign astro.Sign) {
	if s.tracker == nil || sessionID == "" {
		return
	}
	err := s.tracker.Record(ctx, domain.ServedAnswer{
		SessionID:  sessionID,
		AnswerID:   answerID,
		ZodiacSign: sign.String(),
		ServedAt:   s.now(),
	})
	if err != nil {
		slog.Warn("Failed to record served answer", "session_id", sessionID, "answer_id", answerID, "error", err)
	}
}

func normalizeCategory(c domain.Category) domain.Category {
	parsed, ok := domain.ParseCategory(string(c))
	if !ok {
		return domain.CategoryRandom
	}
	return parsed
}
