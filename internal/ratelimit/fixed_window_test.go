package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arshealth/keygate/internal/ratelimit/store"
)

func newMemoryLimiter(t *testing.T, window time.Duration) *FixedWindowLimiter {
	t.Helper()

	s := store.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = s.Close() })

	return NewFixedWindowLimiter(s, window)
}

func TestFixedWindowLimiter_AllowSequence(t *testing.T) {
	t.Parallel()

	l := newMemoryLimiter(t, time.Hour)
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		result, err := l.Allow(ctx, "k1", 3)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3, result.Limit)
		assert.Equal(t, wantRemaining, result.Remaining)
		assert.Zero(t, result.RetryAfter)
	}

	result, err := l.Allow(ctx, "k1", 3)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "fourth request must be denied")
	assert.Zero(t, result.Remaining)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.Equal(t, result.ResetAfter, result.RetryAfter)
}

func TestFixedWindowLimiter_IndependentKeys(t *testing.T) {
	t.Parallel()

	l := newMemoryLimiter(t, time.Hour)
	ctx := context.Background()

	result, err := l.Allow(ctx, "k1", 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = l.Allow(ctx, "k1", 1)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// Another key is untouched by k1's exhaustion.
	result, err = l.Allow(ctx, "k2", 1)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestFixedWindowLimiter_NoQuotaMeansUnlimited(t *testing.T) {
	t.Parallel()

	l := newMemoryLimiter(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		result, err := l.Allow(ctx, "k1", 0)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
}

func TestFixedWindowLimiter_WindowBoundaryBurst(t *testing.T) {
	t.Parallel()

	// Fixed windows accept up to twice the quota across adjacent windows.
	// This test pins that bound rather than pretending it away.
	l := newMemoryLimiter(t, 80*time.Millisecond)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 3; i++ {
		result, err := l.Allow(ctx, "k1", 3)
		require.NoError(t, err)
		if result.Allowed {
			allowed++
		}
	}
	require.Equal(t, 3, allowed)

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		result, err := l.Allow(ctx, "k1", 3)
		require.NoError(t, err)
		if result.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 6, allowed, "two full quotas across the boundary")
}

func TestFixedWindowLimiter_Usage(t *testing.T) {
	t.Parallel()

	l := newMemoryLimiter(t, time.Hour)
	ctx := context.Background()

	t.Run("untouched key", func(t *testing.T) {
		usage, err := l.Usage(ctx, "fresh", 100)
		require.NoError(t, err)
		assert.Zero(t, usage.RequestsThisHour)
		assert.Equal(t, 100, usage.Limit)
		assert.Equal(t, 100, usage.Remaining)
		assert.Zero(t, usage.WindowResetsIn)
	})

	t.Run("partially consumed", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := l.Allow(ctx, "k1", 10)
			require.NoError(t, err)
		}

		usage, err := l.Usage(ctx, "k1", 10)
		require.NoError(t, err)
		assert.Equal(t, 3, usage.RequestsThisHour)
		assert.Equal(t, 7, usage.Remaining)
		assert.Greater(t, usage.WindowResetsIn, time.Duration(0))
	})

	t.Run("denied attempts clamp at the limit", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := l.Allow(ctx, "k2", 2)
			require.NoError(t, err)
		}

		usage, err := l.Usage(ctx, "k2", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, usage.RequestsThisHour, "reported usage never exceeds the quota")
		assert.Zero(t, usage.Remaining)
	})
}

func TestFixedWindowLimiter_Reset(t *testing.T) {
	t.Parallel()

	l := newMemoryLimiter(t, time.Hour)
	ctx := context.Background()

	result, err := l.Allow(ctx, "k1", 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = l.Allow(ctx, "k1", 1)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	require.NoError(t, l.Reset(ctx, "k1"))

	result, err = l.Allow(ctx, "k1", 1)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestFixedWindowLimiter_ConcurrentChecks(t *testing.T) {
	t.Parallel()

	l := newMemoryLimiter(t, time.Hour)
	ctx := context.Background()

	const (
		limit    = 50
		requests = 100
	)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := l.Allow(ctx, "k1", limit)
			require.NoError(t, err)
			if result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load(),
		"exactly the quota is admitted under concurrency")
}

func TestFixedWindowLimiter_Redis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewFixedWindowLimiter(store.NewRedisStoreWithClient(client, nil), time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := l.Allow(ctx, "k1", 2)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := l.Allow(ctx, "k1", 2)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	assert.Equal(t, time.Hour, result.RetryAfter)

	// Counter lives under the shared namespace.
	assert.True(t, mr.Exists("api_key_rate_limit:k1"))

	mr.FastForward(time.Hour + time.Minute)

	result, err = l.Allow(ctx, "k1", 2)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "window expiry restores the quota")
}

func TestNoopLimiter(t *testing.T) {
	t.Parallel()

	l := NewNoopLimiter()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := l.Allow(ctx, "k1", 1)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1, result.Remaining)
	}

	usage, err := l.Usage(ctx, "k1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.Remaining)

	assert.NoError(t, l.Reset(ctx, "k1"))
	assert.NoError(t, l.Close())
}
