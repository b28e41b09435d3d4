package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for the middleware chain.
type MiddlewareMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	authOutcomes *prometheus.CounterVec

	keyLimitAllowed  prometheus.Counter
	keyLimitRejected prometheus.Counter

	clientThrottled prometheus.Counter

	panicsRecovered prometheus.Counter
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = newMiddlewareMetrics()
	})
	return middlewareMetrics
}

func newMiddlewareMetrics() *MiddlewareMetrics {
	return &MiddlewareMetrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
		authOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "auth_outcomes_total",
				Help:      "Total number of gateway authentication outcomes by reason",
			},
			[]string{"outcome"},
		),
		keyLimitAllowed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "key_rate_limit_allowed_total",
				Help:      "Total number of requests allowed by the per-key rate limiter",
			},
		),
		keyLimitRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "key_rate_limit_rejected_total",
				Help:      "Total number of requests rejected by the per-key rate limiter",
			},
		),
		clientThrottled: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "client_throttled_total",
				Help:      "Total number of requests throttled by the per-client limiter",
			},
		),
		panicsRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keygate",
				Subsystem: "http",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered",
			},
		),
	}
}

// RecordRequest records a completed HTTP request.
func (m *MiddlewareMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthOutcome records a gateway authentication outcome.
func (m *MiddlewareMetrics) RecordAuthOutcome(outcome string) {
	m.authOutcomes.WithLabelValues(outcome).Inc()
}

// RecordKeyLimitAllowed records a request allowed by the per-key limiter.
func (m *MiddlewareMetrics) RecordKeyLimitAllowed() {
	m.keyLimitAllowed.Inc()
}

// RecordKeyLimitRejected records a request rejected by the per-key limiter.
func (m *MiddlewareMetrics) RecordKeyLimitRejected() {
	m.keyLimitRejected.Inc()
}

// RecordClientThrottled records a request throttled by the client limiter.
func (m *MiddlewareMetrics) RecordClientThrottled() {
	m.clientThrottled.Inc()
}

// RecordPanicRecovered records a recovered panic.
func (m *MiddlewareMetrics) RecordPanicRecovered() {
	m.panicsRecovered.Inc()
}

// Metrics returns a middleware that records request count, duration and
// in-flight gauge. The route label uses gin's route pattern so path
// parameters do not explode label cardinality.
func Metrics() gin.HandlerFunc {
	m := GetMiddlewareMetrics()

	return func(c *gin.Context) {
		start := time.Now()

		m.requestsInFlight.Inc()
		c.Next()
		m.requestsInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		m.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
