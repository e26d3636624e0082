package answer

import (
	"context"
	"strings"

	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/oracle"
	"github.com/ashureev/answerbook/internal/selection"
)

// SourceMystical marks an ask answer drawn from the preset list.
const SourceMystical = "mystical"

// AskResult answers a question-only consultation.
type AskResult struct {
	Answer string        `json:"answer"`
	Source string        `json:"source"`
	Usage  *oracle.Usage `json:"usage,omitempty"`
}

// Ask answers a bare question, falling back to a preset mystical answer.
func (s *Service) Ask(ctx context.Context, question string) *AskResult {
	if s.oracle.Enabled() {
		res := s.oracle.Generate(ctx, oracle.AskPrompt(question, false))
		if res.OK() {
			s.metrics.AnswerServed(domain.SourceAI, "ask")
			usage := res.Usage
			return &AskResult{Answer: res.Text, Source: domain.SourceAI, Usage: &usage}
		}
	}
	s.metrics.AnswerServed(SourceMystical, "ask")
	return &AskResult{Answer: s.mysticalAnswer(), Source: SourceMystical}
}

func (s *Service) mysticalAnswer() string {
	text, _ := selection.PickWeighted(s.presets.Mystical, uniform[string], s.rnd)
	return text
}

func uniform[T any](T) float64 { return 1 }

// Fortune is the free daily fortune.
type Fortune struct {
	Fortune     string `json:"fortune"`
	LuckyNumber int    `json:"luckyNumber"`
	LuckyColor  string `json:"luckyColor"`
	Advice      string `json:"advice"`
}

// Fortune returns today's fortune. Generated fields that are missing or out
// of range are filled from the presets.
func (s *Service) Fortune(ctx context.Context, name, birthDate string) *Fortune {
	f := &Fortune{
		Fortune: s.presets.Fortune.Text,
		Advice:  s.presets.Fortune.Advice,
	}

	if s.oracle.Enabled() {
		var reply oracle.FortuneReply
		res := s.oracle.GenerateJSON(ctx, oracle.FortunePrompt(name, birthDate, s.now()), &reply)
		if res.OK() {
			f.Fortune = orDefault(reply.Fortune, s.presets.Fortune.PartialText)
			f.Advice = orDefault(reply.Advice, s.presets.Fortune.PartialAdvice)
			f.LuckyColor = strings.TrimSpace(reply.LuckyColor)
			if reply.LuckyNumber >= 1 && reply.LuckyNumber <= 99 {
				f.LuckyNumber = reply.LuckyNumber
			}
		}
	}

	if f.LuckyNumber == 0 {
		f.LuckyNumber = s.luckyNumber()
	}
	if f.LuckyColor == "" {
		f.LuckyColor, _ = selection.PickWeighted(s.presets.LuckyColors, uniform[string], s.rnd)
	}
	return f
}

// luckyNumber draws uniformly from 1..99.
func (s *Service) luckyNumber() int {
	n := int(s.rnd()*99) + 1
	return min(max(n, 1), 99)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
