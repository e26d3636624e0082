package domain

import "slices"

// Tones used by the seeded answer catalog.
const (
	ToneGentle  = "gentle"
	ToneNeutral = "neutral"
	ToneSharp   = "sharp"
)

// Answer is a preset oracle answer. Immutable at request time.
type Answer struct {
	ID     int64    `json:"id" yaml:"id"`
	Text   string   `json:"text" yaml:"text"`
	Tags   []string `json:"tags" yaml:"tags"`
	Tone   string   `json:"tone" yaml:"tone"`
	Weight float64  `json:"weight" yaml:"weight"`
}

// HasTag reports whether the answer is tagged with c.
func (a Answer) HasTag(c Category) bool {
	return slices.Contains(a.Tags, string(c))
}

// AstroHint is a sun-sign flavored hint, optionally tied to a category.
type AstroHint struct {
	ID         int64    `json:"id" yaml:"id"`
	ZodiacSign string   `json:"zodiacSign" yaml:"sign"`
	Category   Category `json:"category" yaml:"category"`
	Text       string   `json:"text" yaml:"text"`
	Weight     float64  `json:"weight" yaml:"weight"`
}

// AnswerWeight returns a's selection weight.
func AnswerWeight(a Answer) float64 { return a.Weight }

// HintWeight returns h's selection weight.
func HintWeight(h AstroHint) float64 { return h.Weight }

// Disclaimer is attached to every served answer.
const Disclaimer = "For self-reflection and entertainment purposes only. This does not constitute professional advice."

// Answer sources reported to clients.
const (
	SourceAI     = "ai"
	SourcePreset = "preset"
)

// AnswerResult is the payload returned for a paid question.
type AnswerResult struct {
	Answer     string  `json:"answer"`
	AstroHint  *string `json:"astroHint"`
	Cost       string  `json:"cost"`
	TxRef      *string `json:"txRef"`
	SunSign    string  `json:"sunSign"`
	Disclaimer string  `json:"disclaimer"`
	Source     string  `json:"source"`
	AnswerID   int64   `json:"answerId,omitempty"`
}
