// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes.
const (
	OutcomeStored    = "stored"
	OutcomeFiltered  = "filtered"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Recompute outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lens_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// IngestMessages counts bus messages by source and outcome.
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lens_ingest_messages_total",
			Help: "Ingested messages by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	// ScopeRecomputes counts scope recomputations by trigger and outcome.
	ScopeRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lens_scope_recomputes_total",
			Help: "Scope recomputations by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	// RecomputeDuration tracks how long one scope recomputation takes.
	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lens_scope_recompute_duration_seconds",
			Help:    "Scope recomputation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// LifecyclesEmitted counts tool-call lifecycles written by recomputes.
	LifecyclesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lens_lifecycles_emitted_total",
			Help: "Tool-call lifecycles written",
		},
	)

	// UnresolvedLifecycles counts lifecycles written without an interaction.
	UnresolvedLifecycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lens_lifecycles_unresolved_total",
			Help: "Tool-call lifecycles written without a resolvable interaction",
		},
	)

	// DroppedFragments counts phase fragments discarded for missing ids.
	DroppedFragments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lens_fragments_dropped_total",
			Help: "Phase fragments dropped for lacking a tool call or task id",
		},
	)

	// QueueDepth tracks scopes waiting for recomputation.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lens_scope_queue_depth",
			Help: "Scopes waiting for recomputation",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
}

// RecordIngest counts one ingested message.
func RecordIngest(source, outcome string) {
	IngestMessages.WithLabelValues(source, outcome).Inc()
}

// RecordRecompute records the outcome of one scope recomputation.
func RecordRecompute(trigger string, err error, seconds float64, lifecycles, unresolved, dropped int) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	ScopeRecomputes.WithLabelValues(trigger, outcome).Inc()
	RecomputeDuration.Observe(seconds)
	if err != nil {
		return
	}
	LifecyclesEmitted.Add(float64(lifecycles))
	UnresolvedLifecycles.Add(float64(unresolved))
	DroppedFragments.Add(float64(dropped))
}
