// Package metrics exposes Prometheus instrumentation for the moderation
// pipeline: decisions by severity and action, classifier call outcomes and
// latency, and side effects that failed after a decision was made.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ModerationDecisions counts every completed moderation decision.
	ModerationDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mythcraft_moderation_decisions_total",
		Help: "Moderation decisions by severity and action",
	}, []string{"severity", "action"})

	// ClassifierRequests counts classifier calls, labeled by outcome:
	// "ok", "error", "cache_hit".
	ClassifierRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mythcraft_classifier_requests_total",
		Help: "Classification calls by outcome",
	}, []string{"outcome"})

	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mythcraft_classifier_latency_seconds",
		Help:    "Latency of classification calls including retries",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// SideEffectFailures counts best-effort writes that failed, labeled by
	// op: "flag", "block_tx", "hide", "publish", "evidence".
	SideEffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mythcraft_moderation_side_effect_failures_total",
		Help: "Moderation side effects that failed and were swallowed",
	}, []string{"op"})

	// ReconciledContent counts content rows re-hidden by the reconcile job.
	ReconciledContent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mythcraft_moderation_reconciled_total",
		Help: "Blocked content rows hidden by the reconcile job",
	})
)

func init() {
	prometheus.MustRegister(
		ModerationDecisions,
		ClassifierRequests,
		ClassifierLatency,
		SideEffectFailures,
		ReconciledContent,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
