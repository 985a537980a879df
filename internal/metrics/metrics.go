// Package metrics provides Prometheus instrumentation for the admission layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes used as label values.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeExempt  = "exempt"
)

var (
	// AdmissionDecisions counts terminal admission decisions by tier and outcome.
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_admission_decisions_total",
			Help: "Total number of admission decisions",
		},
		[]string{"tier", "outcome"},
	)

	// StoreFailures counts quota store failures that caused fail-open decisions.
	StoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tollgate_store_failures_total",
			Help: "Total number of quota store failures (fail-open decisions)",
		},
	)

	// QuotaCheckDuration measures the quota check latency in seconds,
	// including the store round-trip.
	QuotaCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tollgate_quota_check_duration_seconds",
			Help:    "Quota check duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
