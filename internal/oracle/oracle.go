// Package oracle wraps text-generation providers behind a two-armed result:
// a completion is either Generated or Fallback, never an error the caller
// has to surface.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/answerbook/internal/metrics"
	"github.com/kaptinlin/jsonrepair"
)

var (
	// ErrNotConfigured means no provider is available.
	ErrNotConfigured = errors.New("text generation provider not configured")
	// ErrEmptyCompletion means the provider returned no text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Request is one provider call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Completion is a finished provider response.
type Completion struct {
	Text  string
	Usage Usage
	Model string
}

// Provider is a text-generation backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
	// Stream yields text fragments. A non-nil error ends the stream.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Kind tells a generated result from a fallback.
type Kind int

const (
	Fallback Kind = iota
	Generated
)

func (k Kind) String() string {
	if k == Generated {
		return "generated"
	}
	return "fallback"
}

// Result is the outcome of a generation. Err explains a Fallback for logging.
type Result struct {
	Kind  Kind
	Text  string
	Usage Usage
	Model string
	Err   error
}

// OK reports whether the result carries generated text.
func (r Result) OK() bool { return r.Kind == Generated }

// Prompt is what callers hand to the Oracle. Zero MaxTokens uses the
// oracle's default.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Settings tune every request the Oracle makes.
type Settings struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Oracle applies settings, timeouts and fallback rules around a Provider.
type Oracle struct {
	provider Provider
	settings Settings
	metrics  *metrics.Recorder
}

// New creates an Oracle. provider may be nil, in which case every call falls back.
func New(provider Provider, settings Settings, rec *metrics.Recorder) *Oracle {
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = 500
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	return &Oracle{provider: provider, settings: settings, metrics: rec}
}

// Enabled reports whether a provider is configured.
func (o *Oracle) Enabled() bool { return o != nil && o.provider != nil }

// ProviderName returns the provider name, or "none".
func (o *Oracle) ProviderName() string {
	if !o.Enabled() {
		return "none"
	}
	return o.provider.Name()
}

func (o *Oracle) request(p Prompt, asJSON bool) Request {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.settings.MaxTokens
	}
	return Request{
		System:      p.System,
		Prompt:      p.User,
		Temperature: o.settings.Temperature,
		MaxTokens:   maxTokens,
		JSON:        asJSON,
	}
}

// Generate returns the provider's text or a Fallback.
func (o *Oracle) Generate(ctx context.Context, p Prompt) Result {
	return o.complete(ctx, o.request(p, false))
}

func (o *Oracle) complete(ctx context.Context, req Request) Result {
	if !o.Enabled() {
		return Result{Kind: Fallback, Err: ErrNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, o.settings.Timeout)
	defer cancel()

	start := time.Now()
	c, err := o.provider.Complete(ctx, req)
	if err == nil && strings.TrimSpace(c.Text) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		o.metrics.Generation(o.provider.Name(), Fallback.String(), time.Since(start))
		slog.Warn("Text generation failed, falling back", "provider", o.provider.Name(), "error", err)
		return Result{Kind: Fallback, Err: err}
	}
	o.metrics.Generation(o.provider.Name(), Generated.String(), time.Since(start))
	return Result{Kind: Generated, Text: strings.TrimSpace(c.Text), Usage: c.Usage, Model: c.Model}
}

// GenerateJSON asks for a JSON object and decodes it into v. Output that does
// not parse is passed through jsonrepair once; if it still fails the result
// is a Fallback and v is left untouched.
func (o *Oracle) GenerateJSON(ctx context.Context, p Prompt, v any) Result {
	res := o.complete(ctx, o.request(p, true))
	if !res.OK() {
		return res
	}
	if err := DecodeJSON(res.Text, v); err != nil {
		slog.Warn("Unparsable structured completion, falling back", "provider", o.ProviderName(), "error", err)
		return Result{Kind: Fallback, Err: err, Usage: res.Usage, Model: res.Model}
	}
	return res
}

// DecodeJSON decodes a model's JSON output, tolerating code fences and
// repairable syntax errors.
func DecodeJSON(text string, v any) error {
	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return fmt.Errorf("repair json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode repaired json: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Stream yields fragments from the provider. The first yielded error ends
// the stream; callers switch to preset content at that point.
func (o *Oracle) Stream(ctx context.Context, p Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !o.Enabled() {
			yield("", ErrNotConfigured)
			return
		}
		ctx, cancel := context.WithTimeout(ctx, o.settings.Timeout)
		defer cancel()

		start := time.Now()
		kind := Fallback
		defer func() { o.metrics.Generation(o.provider.Name(), kind.String(), time.Since(start)) }()

		emitted := false
		for chunk, err := range o.provider.Stream(ctx, o.request(p, false)) {
			if err != nil {
				slog.Warn("Text generation stream failed", "provider", o.provider.Name(), "error", err)
				yield("", err)
				return
			}
			if chunk == "" {
				continue
			}
			emitted = true
			if !yield(chunk, nil) {
				kind = Generated
				return
			}
		}
		if !emitted {
			yield("", ErrEmptyCompletion)
			return
		}
		kind = Generated
	}
}
