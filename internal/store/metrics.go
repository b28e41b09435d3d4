package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for record store operations.
var (
	recordStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_store_operations_total",
			Help: "Total number of record store operations",
		},
		[]string{"operation", "status"},
	)

	recordStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "record_store_operation_duration_seconds",
			Help:    "Duration of record store operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	recordStoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "record_store_breaker_state",
			Help: "Record store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// recordStoreOperation records one store operation outcome.
func recordStoreOperation(operation, status string, duration time.Duration) {
	recordStoreOperationsTotal.WithLabelValues(operation, status).Inc()
	recordStoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
