// Package metrics provides Prometheus metrics for the news pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "airnews"

var (
	// ItemsPolled counts candidate items returned by each source.
	ItemsPolled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_polled_total",
			Help:      "Candidate items returned by source channels",
		},
		[]string{"source"},
	)

	// SourceErrors counts failed polls per source.
	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Failed source polls",
		},
		[]string{"source"},
	)

	// FallbackResults counts items produced by fallback search providers.
	FallbackResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_results_total",
			Help:      "Items produced by fallback search providers",
		},
		[]string{"provider"},
	)

	// Classifications counts classifier outcomes.
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifier outcomes",
		},
		[]string{"outcome"},
	)

	// Queued counts items submitted to moderation.
	Queued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queued_total",
			Help:      "Items submitted to moderation",
		},
	)

	// Decisions counts moderator decisions by action and result.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Moderator decisions",
		},
		[]string{"action", "result"},
	)

	// Published counts documents written to the document store.
	Published = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Items published to the document store",
		},
	)

	// Swept counts documents removed by the retention sweep.
	Swept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_total",
			Help:      "Documents removed by the retention sweep",
		},
	)

	// AICallDuration measures AI service calls.
	AICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_call_duration_seconds",
			Help:      "Duration of AI service calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// CycleDuration measures whole pipeline cycles.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of pipeline cycles in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)

// ObserveAICall records one AI service call.
func ObserveAICall(provider string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	AICallDuration.WithLabelValues(provider, status).Observe(d.Seconds())
}

// RecordClassification records a classifier outcome.
func RecordClassification(accepted, degraded bool) {
	outcome := "rejected"
	switch {
	case degraded:
		outcome = "degraded"
	case accepted:
		outcome = "accepted"
	}
	Classifications.WithLabelValues(outcome).Inc()
}

// RecordDecision records a moderator decision.
func RecordDecision(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Decisions.WithLabelValues(action, result).Inc()
}
