package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limit decisions.
var (
	rateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"outcome"},
	)

	rateLimitCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rate_limit_check_duration_seconds",
			Help:    "Duration of rate limit checks in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
)

func init() {
	// Pre-populate outcome labels so dashboards see zeroes, not gaps.
	for _, outcome := range []string{"allowed", "allowed_unlimited", "denied", "error"} {
		rateLimitDecisionsTotal.WithLabelValues(outcome)
	}
}

// recordDecision records one rate limit decision.
func recordDecision(outcome string, duration time.Duration) {
	rateLimitDecisionsTotal.WithLabelValues(outcome).Inc()
	rateLimitCheckDuration.Observe(duration.Seconds())
}
