package answer

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/answerbook/internal/astro"
	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/oracle"
)

// Stream event kinds.
const (
	EventDelta  = "delta"
	EventResult = "result"
)

// Stream framing emitted around the answer and the hint.
const (
	streamOpening   = "✨ "
	streamSeparator = "\n\n" + oracle.HintMarker + " "
)

// StreamEvent is one step of a streamed answer: text deltas followed by a
// single result.
type StreamEvent struct {
	Kind   string               `json:"kind"`
	Delta  string               `json:"delta,omitempty"`
	Result *domain.AnswerResult `json:"result,omitempty"`
}

// StreamAnswer streams an answer. Provider text is relayed as it arrives; if
// the provider is missing or fails before producing text, a pool answer and
// hint are paced out rune by rune instead. The final event carries the
// complete result.
func (s *Service) StreamAnswer(ctx context.Context, req Request) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		sign := astro.ClassifySunSign(req.Profile.BirthDate)
		category := normalizeCategory(req.Question.Category)

		if !yield(StreamEvent{Kind: EventDelta, Delta: streamOpening}, nil) {
			return
		}

		if s.oracle.Enabled() {
			text, produced, ok := s.relay(ctx, req, sign, yield)
			if !ok {
				return
			}
			if produced {
				answerText, hintText := oracle.SplitStreamed(text)
				if answerText == "" {
					answerText = s.presets.ConsultAnswer
				}
				var hint *string
				if hintText != "" {
					hint = &hintText
				} else {
					hint = s.pickHint(ctx, sign, category)
				}
				s.metrics.AnswerServed(domain.SourceAI, category.String())
				yield(StreamEvent{Kind: EventResult, Result: s.result(answerText, hint, sign, domain.SourceAI, 0, req.TxRef)}, nil)
				return
			}
		}

		res, err := s.presetAnswer(ctx, req, sign, category)
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}
		if !s.pace(ctx, res.Answer, yield) {
			return
		}
		if res.AstroHint != nil {
			if !yield(StreamEvent{Kind: EventDelta, Delta: streamSeparator}, nil) {
				return
			}
			if !s.pace(ctx, *res.AstroHint, yield) {
				return
			}
		}
		yield(StreamEvent{Kind: EventResult, Result: res}, nil)
	}
}

// relay forwards provider fragments. produced reports whether any text was
// relayed; ok is false once the consumer has stopped.
func (s *Service) relay(ctx context.Context, req Request, sign astro.Sign, yield func(StreamEvent, error) bool) (text string, produced, ok bool) {
	var sb strings.Builder
	for chunk, err := range s.oracle.Stream(ctx, oracle.AnswerStreamPrompt(req.Profile, req.Question, sign.String())) {
		if err != nil {
			if sb.Len() == 0 {
				slog.Info("Streaming generation unavailable, using preset answer", "error", err)
			} else {
				slog.Warn("Streaming generation stopped early", "error", err)
			}
			break
		}
		sb.WriteString(chunk)
		if !yield(StreamEvent{Kind: EventDelta, Delta: chunk}, nil) {
			return "", true, false
		}
	}
	return sb.String(), sb.Len() > 0, true
}

// pace emits text one rune at a time with the configured delay. It returns
// false when the consumer stopped or ctx ended.
func (s *Service) pace(ctx context.Context, text string, yield func(StreamEvent, error) bool) bool {
	var timer *time.Timer
	if s.cfg.StreamDelay > 0 {
		timer = time.NewTimer(s.cfg.StreamDelay)
		defer timer.Stop()
	}
	for _, r := range text {
		if !yield(StreamEvent{Kind: EventDelta, Delta: string(r)}, nil) {
			return false
		}
		if timer == nil {
			continue
		}
		timer.Reset(s.cfg.StreamDelay)
		select {
		case <-ctx.Done():
			yield(StreamEvent{}, ctx.Err())
			return false
		case <-timer.C:
		}
	}
	return true
}
