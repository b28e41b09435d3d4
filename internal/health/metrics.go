package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HealthMetrics holds Prometheus metrics for health checks.
type HealthMetrics struct {
	probesTotal   *prometheus.CounterVec
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	dependencyUp  *prometheus.GaugeVec
}

var (
	healthMetricsInstance *HealthMetrics
	healthMetricsOnce     sync.Once
)

// GetHealthMetrics returns the singleton health metrics instance.
func GetHealthMetrics() *HealthMetrics {
	healthMetricsOnce.Do(func() {
		healthMetricsInstance = &HealthMetrics{
			probesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "keygate",
					Subsystem: "health",
					Name:      "probes_total",
					Help:      "Total number of probe requests served",
				},
				[]string{"type"},
			),
			checksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "keygate",
					Subsystem: "health",
					Name:      "checks_total",
					Help:      "Total number of dependency checks performed",
				},
				[]string{"check", "status"},
			),
			checkDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "keygate",
					Subsystem: "health",
					Name:      "check_duration_seconds",
					Help:      "Dependency check duration in seconds",
					Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
				},
				[]string{"check"},
			),
			dependencyUp: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "keygate",
					Subsystem: "health",
					Name:      "dependency_up",
					Help:      "Current dependency status (1=healthy, 0=unhealthy)",
				},
				[]string{"name", "type"},
			),
		}
	})
	return healthMetricsInstance
}

// MustRegister registers all health metric collectors with the given
// Prometheus registry. This is needed because promauto registers
// metrics with the default global registry, but the service serves
// /metrics from a custom registry. Calling MustRegister bridges the
// two so health metrics appear on the metrics endpoint.
func (m *HealthMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.probesTotal,
		m.checksTotal,
		m.checkDuration,
		m.dependencyUp,
	)
}

// Init pre-initializes common label combinations with zero values so
// that metrics appear in /metrics output immediately after startup.
// Prometheus *Vec types only emit metric lines after WithLabelValues()
// is called at least once. This method is idempotent and safe to call
// multiple times.
func (m *HealthMetrics) Init() {
	for _, probeType := range []string{"liveness", "readiness"} {
		m.probesTotal.WithLabelValues(probeType)
	}
	for _, check := range []string{"mongodb", "redis", "secrets"} {
		for _, status := range []string{"success", "error"} {
			m.checksTotal.WithLabelValues(check, status)
		}
	}
}

// RecordProbe records a probe request.
func (m *HealthMetrics) RecordProbe(probeType string) {
	m.probesTotal.WithLabelValues(probeType).Inc()
}

// RecordHealthCheck records one dependency check outcome.
func RecordHealthCheck(name string, healthy bool, durationSeconds float64) {
	m := GetHealthMetrics()
	status := "success"
	if !healthy {
		status = "error"
	}
	m.checksTotal.WithLabelValues(name, status).Inc()
	m.checkDuration.WithLabelValues(name).Observe(durationSeconds)
}

// SetDependencyHealthStatus sets the current status gauge for a dependency.
func SetDependencyHealthStatus(name, depType string, healthy bool) {
	m := GetHealthMetrics()
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.dependencyUp.WithLabelValues(name, depType).Set(value)
}
