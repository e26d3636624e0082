// Package metrics exposes Prometheus collectors for the Answer Book service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "answerbook"

// Payment outcomes.
const (
	PaymentPassThrough = "pass_through"
	PaymentRequired    = "required"
	PaymentInvalid     = "invalid"
	PaymentSettled     = "settled"
	PaymentUnsettled   = "unsettled"
	PaymentError       = "error"
)

// Recorder holds the service collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry          *prometheus.Registry
	answers           *prometheus.CounterVec
	payments          *prometheus.CounterVec
	generations       *prometheus.CounterVec
	generationSeconds *prometheus.HistogramVec
}

// New creates a Recorder on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r := MustNewRecorder(reg)
	r.registry = reg
	return r
}

// MustNewRecorder registers the collectors with reg and panics on conflict.
func MustNewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		answers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answers_total",
				Help:      "Answers served, by source and category.",
			},
			[]string{"source", "category"},
		),
		payments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_total",
				Help:      "Payment gate decisions, by outcome.",
			},
			[]string{"outcome"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_total",
				Help:      "Text generation attempts, by provider and result kind.",
			},
			[]string{"provider", "kind"},
		),
		generationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_seconds",
				Help:      "Time spent waiting on the text generation provider.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider"},
		),
	}
	reg.MustRegister(r.answers, r.payments, r.generations, r.generationSeconds)
	return r
}

// AnswerServed counts one served answer.
func (r *Recorder) AnswerServed(source, category string) {
	if r == nil {
		return
	}
	r.answers.WithLabelValues(source, category).Inc()
}

// Payment counts one gate decision.
func (r *Recorder) Payment(outcome string) {
	if r == nil {
		return
	}
	r.payments.WithLabelValues(outcome).Inc()
}

// Generation records one provider call.
func (r *Recorder) Generation(provider, kind string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.generations.WithLabelValues(provider, kind).Inc()
	r.generationSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Handler serves the recorder's registry, or the default registry when the
// recorder was built with MustNewRecorder.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
