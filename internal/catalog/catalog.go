// Package catalog loads the answer and astro hint seed catalog.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/answerbook/internal/astro"
	"github.com/ashureev/answerbook/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

// Catalog is the expanded seed data plus preset texts used for fallbacks.
type Catalog struct {
	Answers         []domain.Answer    `yaml:"answers"`
	Hints           []domain.AstroHint `yaml:"hints"`
	AnswerTemplates AnswerTemplates    `yaml:"answer_templates"`
	HintTemplates   HintTemplates      `yaml:"hint_templates"`
	Presets         Presets            `yaml:"presets"`
}

// AnswerTemplates expand to one answer per category, base and tone.
type AnswerTemplates struct {
	Weights []float64                    `yaml:"weights"`
	Tones   []ToneSuffix                 `yaml:"tones"`
	Bases   map[domain.Category][]string `yaml:"bases"`
}

// ToneSuffix is appended to a base sentence to give it a tone.
type ToneSuffix struct {
	Tone   string `yaml:"tone"`
	Suffix string `yaml:"suffix"`
}

// HintTemplates expand to hints for every sign and non-random category.
type HintTemplates struct {
	Weights []float64                  `yaml:"weights"`
	Bases   map[domain.Category]string `yaml:"bases"`
	Flavor  string                     `yaml:"flavor"`
	Slow    string                     `yaml:"slow"`
}

// Presets are texts served when no pool entry or generation is available.
type Presets struct {
	ConsultAnswer string        `yaml:"consult_answer"`
	ConsultHint   string        `yaml:"consult_hint"`
	Mystical      []string      `yaml:"mystical"`
	Fortune       FortunePreset `yaml:"fortune"`
	LuckyColors   []string      `yaml:"lucky_colors"`
}

// FortunePreset holds the canned daily fortune.
type FortunePreset struct {
	Text          string `yaml:"text"`
	Advice        string `yaml:"advice"`
	PartialText   string `yaml:"partial_text"`
	PartialAdvice string `yaml:"partial_advice"`
}

// ConsultHintFor renders the preset hint for sign.
func (p Presets) ConsultHintFor(sign string) string {
	return strings.ReplaceAll(p.ConsultHint, "{sign}", sign)
}

// Default returns the embedded catalog, expanded and validated.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Load reads the catalog at path, or the embedded one when path is empty.
// Presets missing from a file are taken from the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes, expands and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.fillPresets(); err != nil {
		return nil, err
	}
	c.expand()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) fillPresets() error {
	p := &c.Presets
	if p.ConsultAnswer != "" && p.ConsultHint != "" && len(p.Mystical) > 0 &&
		p.Fortune.Text != "" && len(p.LuckyColors) > 0 {
		return nil
	}
	var base Catalog
	if err := yaml.Unmarshal(embedded, &base); err != nil {
		return fmt.Errorf("decode embedded catalog: %w", err)
	}
	d := base.Presets
	if p.ConsultAnswer == "" {
		p.ConsultAnswer = d.ConsultAnswer
	}
	if p.ConsultHint == "" {
		p.ConsultHint = d.ConsultHint
	}
	if len(p.Mystical) == 0 {
		p.Mystical = d.Mystical
	}
	if p.Fortune.Text == "" {
		p.Fortune = d.Fortune
	}
	if len(p.LuckyColors) == 0 {
		p.LuckyColors = d.LuckyColors
	}
	return nil
}

func (c *Catalog) expand() {
	answerIDs := make(map[int64]bool, len(c.Answers))
	for _, a := range c.Answers {
		answerIDs[a.ID] = true
	}
	t := c.AnswerTemplates
	for ci, cat := range domain.Categories() {
		n := int64(0)
		for bi, base := range t.Bases[cat] {
			for _, tone := range t.Tones {
				n++
				id := int64(ci)*100 + n
				if answerIDs[id] {
					continue
				}
				c.Answers = append(c.Answers, domain.Answer{
					ID:     id,
					Text:   base + " " + tone.Suffix,
					Tags:   []string{string(cat)},
					Tone:   tone.Tone,
					Weight: tierWeight(t.Weights, bi),
				})
			}
		}
	}

	hintIDs := make(map[int64]bool, len(c.Hints))
	for _, h := range c.Hints {
		hintIDs[h.ID] = true
	}
	ht := c.HintTemplates
	if len(ht.Bases) == 0 {
		return
	}
	for si, sign := range astro.Signs() {
		for ci, cat := range domain.Categories() {
			base, ok := ht.Bases[cat]
			if !ok || !cat.Filters() {
				continue
			}
			texts := []string{strings.TrimSpace(base + " " + ht.Flavor)}
			if ht.Slow != "" {
				texts = append(texts, ht.Slow)
			}
			for k, text := range texts {
				id := int64(si+1)*100 + int64(ci)*10 + int64(k) + 1
				if hintIDs[id] {
					continue
				}
				c.Hints = append(c.Hints, domain.AstroHint{
					ID:         id,
					ZodiacSign: sign.String(),
					Category:   cat,
					Text:       strings.ReplaceAll(text, "{sign}", sign.String()),
					Weight:     tierWeight(ht.Weights, k),
				})
			}
		}
	}
}

// tierWeight returns weights[i], the last tier past the end, or 1.
func tierWeight(weights []float64, i int) float64 {
	switch {
	case len(weights) == 0:
		return 1
	case i < len(weights):
		return weights[i]
	default:
		return weights[len(weights)-1]
	}
}

// Validate checks weights, categories, signs and id uniqueness.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[int64]bool, len(c.Answers))
	for _, a := range c.Answers {
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("answer %d: duplicate id", a.ID))
		}
		seen[a.ID] = true
		if strings.TrimSpace(a.Text) == "" {
			errs = append(errs, fmt.Errorf("answer %d: empty text", a.ID))
		}
		if a.Weight < 0 {
			errs = append(errs, fmt.Errorf("answer %d: negative weight %v", a.ID, a.Weight))
		}
		for _, tag := range a.Tags {
			if _, ok := domain.ParseCategory(tag); !ok {
				errs = append(errs, fmt.Errorf("answer %d: unknown tag %q", a.ID, tag))
			}
		}
	}

	seen = make(map[int64]bool, len(c.Hints))
	for _, h := range c.Hints {
		if seen[h.ID] {
			errs = append(errs, fmt.Errorf("hint %d: duplicate id", h.ID))
		}
		seen[h.ID] = true
		if _, ok := astro.ParseSign(h.ZodiacSign); !ok {
			errs = append(errs, fmt.Errorf("hint %d: unknown sign %q", h.ID, h.ZodiacSign))
		}
		if h.Category != "" {
			if _, ok := domain.ParseCategory(string(h.Category)); !ok {
				errs = append(errs, fmt.Errorf("hint %d: unknown category %q", h.ID, h.Category))
			}
		}
		if h.Weight < 0 {
			errs = append(errs, fmt.Errorf("hint %d: negative weight %v", h.ID, h.Weight))
		}
	}

	if len(c.Presets.Mystical) == 0 {
		errs = append(errs, errors.New("presets: no mystical answers"))
	}
	if len(c.Presets.LuckyColors) == 0 {
		errs = append(errs, errors.New("presets: no lucky colors"))
	}
	return errors.Join(errs...)
}

// AnswersFor returns the answers tagged with cat, or all answers for random.
func (c *Catalog) AnswersFor(cat domain.Category) []domain.Answer {
	if !cat.Filters() {
		return c.Answers
	}
	var out []domain.Answer
	for _, a := range c.Answers {
		if a.HasTag(cat) {
			out = append(out, a)
		}
	}
	return out
}
