package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAtomicLogger(t *testing.T) {
	t.Parallel()

	t.Run("nil delegate is noop", func(t *testing.T) {
		t.Parallel()

		a := NewAtomicLogger(nil)
		require.NotNil(t, a.Load())

		// Must not panic.
		a.LogAuthentication(context.Background(), OutcomeSuccess, "valid", nil)
		assert.NoError(t, a.Close())
	})

	t.Run("zero value is noop", func(t *testing.T) {
		t.Parallel()

		var a AtomicLogger
		require.NotNil(t, a.Load())
		a.LogRateLimit(context.Background(), nil, 0, 0)
		assert.NoError(t, a.Close())
	})
}

func TestAtomicLogger_Swap(t *testing.T) {
	t.Parallel()

	firstBuf := &syncBuffer{}
	first, err := NewLogger(DefaultConfig(),
		WithLoggerWriter(firstBuf),
		WithLoggerMetrics(NewMetricsWithRegisterer("test", prometheus.NewRegistry())),
	)
	require.NoError(t, err)

	secondBuf := &syncBuffer{}
	second, err := NewLogger(DefaultConfig(),
		WithLoggerWriter(secondBuf),
		WithLoggerMetrics(NewMetricsWithRegisterer("test", prometheus.NewRegistry())),
	)
	require.NoError(t, err)

	a := NewAtomicLogger(first)

	a.LogLifecycle(context.Background(), ActionKeyCreate, OutcomeSuccess, &Subject{KeyID: "key-1"})

	prev := a.Swap(second)
	assert.Equal(t, first, prev)
	require.NoError(t, prev.Close())

	a.LogLifecycle(context.Background(), ActionKeyDeactivate, OutcomeSuccess, &Subject{KeyID: "key-1"})
	require.NoError(t, a.Close())

	var firstEvent Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(firstBuf.String())), &firstEvent))
	assert.Equal(t, ActionKeyCreate, firstEvent.Action)

	var secondEvent Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(secondBuf.String())), &secondEvent))
	assert.Equal(t, ActionKeyDeactivate, secondEvent.Action)
}

func TestAtomicLogger_ConcurrentSwapAndLog(t *testing.T) {
	t.Parallel()

	a := NewAtomicLogger(NewNoopLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			prev := a.Swap(NewNoopLogger())
			_ = prev.Close()
		}
	}()

	for i := 0; i < 100; i++ {
		a.LogRateLimit(context.Background(), &Subject{KeyID: "key-1"}, 1000, time.Second)
	}

	<-done
	assert.NoError(t, a.Close())
}
