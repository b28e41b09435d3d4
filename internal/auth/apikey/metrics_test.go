package apikey

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	t.Run("with namespace", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics("test")
		require.NotNil(t, m)
		assert.NotNil(t, m.validationTotal)
		assert.NotNil(t, m.validationDuration)
		assert.NotNil(t, m.cacheHits)
		assert.NotNil(t, m.cacheMisses)
		assert.NotNil(t, m.registry)
	})

	t.Run("with empty namespace", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics("")
		require.NotNil(t, m)
		// Should use default namespace "keygate"
		assert.NotNil(t, m.validationTotal)
	})
}

func TestMetrics_Init(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_init")
	m.Init()
	m.Init() // idempotent

	metricFamilies, err := m.Registry().Gather()
	require.NoError(t, err)

	// Pre-populated label combinations appear before any recording.
	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_init_apikey_validation_total" {
			found = true
			assert.GreaterOrEqual(t, len(mf.GetMetric()), 12)
		}
	}
	assert.True(t, found, "validation_total should be gatherable after Init")
}

func TestMetrics_RecordValidation(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_validation")

	// Record various validation results
	m.RecordValidation("success", "valid", 100*time.Millisecond)
	m.RecordValidation("success", "valid", 75*time.Millisecond)
	m.RecordValidation("error", "not_found", 50*time.Millisecond)
	m.RecordValidation("error", "expired", 25*time.Millisecond)
	m.RecordValidation("error", "inactive", 10*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m, "test_validation_apikey_validation_total", "success", "valid"))
	assert.Equal(t, 1.0, counterValue(t, m, "test_validation_apikey_validation_total", "error", "expired"))
}

// counterValue gathers the registry and returns the counter sample for the
// given status/reason label pair.
func counterValue(t *testing.T, m *Metrics, name, status, reason string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchLabels(metric, status, reason) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// matchLabels reports whether the metric carries the status and reason
// label values.
func matchLabels(metric *dto.Metric, status, reason string) bool {
	var gotStatus, gotReason string
	for _, lp := range metric.GetLabel() {
		switch lp.GetName() {
		case "status":
			gotStatus = lp.GetValue()
		case "reason":
			gotReason = lp.GetValue()
		}
	}
	return gotStatus == status && gotReason == reason
}

func TestMetrics_RecordCacheHit(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_cache_hit")

	// Record cache hits
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()

	// Verify metric was recorded (no panic)
	assert.NotNil(t, m.cacheHits)
}

func TestMetrics_RecordCacheMiss(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_cache_miss")

	// Record cache misses
	m.RecordCacheMiss()
	m.RecordCacheMiss()

	// Verify metric was recorded (no panic)
	assert.NotNil(t, m.cacheMisses)
}

func TestMetrics_Registry(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_registry")

	registry := m.Registry()
	require.NotNil(t, registry)

	// Verify metrics are registered
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}

func TestMetrics_MustRegister(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_must_register")

	// Create a new registry
	registry := prometheus.NewRegistry()

	// Register metrics
	m.MustRegister(registry)

	// Registering twice must not panic
	m.MustRegister(registry)

	// Verify metrics are registered
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}

func TestMetrics_RecordValidation_AllStatuses(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_all_statuses")

	statuses := []struct {
		status string
		reason string
	}{
		{"success", "valid"},
		{"error", "missing"},
		{"error", "not_found"},
		{"error", "store_error"},
		{"error", "inactive"},
		{"error", "expired"},
	}

	for _, s := range statuses {
		m.RecordValidation(s.status, s.reason, time.Millisecond)
	}

	// Verify no panics occurred
	assert.NotNil(t, m.validationTotal)
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_concurrent")

	done := make(chan bool)
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				m.RecordValidation("success", "valid", time.Millisecond)
				m.RecordCacheHit()
				m.RecordCacheMiss()
			}
			done <- true
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	// Verify no race conditions
	assert.NotNil(t, m.validationTotal)
}
