// Package metrics exposes audit outcomes and provider latency to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invoice_auditor"

// Recorder collects the auditor's metrics on its own registry
type Recorder struct {
	registry          *prometheus.Registry
	decisions         *prometheus.CounterVec
	signals           *prometheus.CounterVec
	scores            prometheus.Histogram
	providerDuration  *prometheus.HistogramVec
	narrativeFailures prometheus.Counter
	draftFailures     prometheus.Counter
}

// NewRecorder registers all metrics on a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by action.",
		}, []string{"action"}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Computed signals by type and whether they were anomalous.",
		}, []string{"type", "anomalous"}),
		scores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Rubric confidence scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		providerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Model call latency by provider, operation and outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "operation", "outcome"}),
		narrativeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrative_failures_total",
			Help:      "Audits whose reasoning pass failed.",
		}),
		draftFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_draft_failures_total",
			Help:      "Escalations whose negotiation draft could not be produced.",
		}),
	}
}

// Decision counts one routing decision
func (r *Recorder) Decision(action string, score int) {
	r.decisions.WithLabelValues(action).Inc()
	r.scores.Observe(float64(score))
}

// Signal counts one computed signal
func (r *Recorder) Signal(signalType string, anomalous bool) {
	r.signals.WithLabelValues(signalType, strconv.FormatBool(anomalous)).Inc()
}

// ProviderCall observes one model call
func (r *Recorder) ProviderCall(provider, operation string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.providerDuration.WithLabelValues(provider, operation, outcome).Observe(d.Seconds())
}

// NarrativeFailure counts a failed reasoning pass
func (r *Recorder) NarrativeFailure() {
	r.narrativeFailures.Inc()
}

// DraftFailure counts a failed negotiation draft
func (r *Recorder) DraftFailure() {
	r.draftFailures.Inc()
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
