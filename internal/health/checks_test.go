package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDependencyCheck(t *testing.T) {
	t.Parallel()

	check := NewDependencyCheck("store", DependencyTypeDatabase, func(context.Context) error {
		return nil
	})

	assert.Equal(t, "store", check.Name())
	assert.True(t, check.IsCritical())
	assert.NoError(t, check.Check(context.Background()))

	optional := NewDependencyCheck("cache", DependencyTypeCache, func(context.Context) error {
		return errors.New("down")
	}, WithCritical(false))

	assert.False(t, optional.IsCritical())
	assert.Error(t, optional.Check(context.Background()))
}

func TestHTTPHealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("healthy endpoint", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		check := HTTPHealthCheck("upstream", server.URL, time.Second)
		assert.NoError(t, check.Check(context.Background()))
	})

	t.Run("unhealthy status code", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		check := HTTPHealthCheck("upstream", server.URL, time.Second)
		assert.Error(t, check.Check(context.Background()))
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		t.Parallel()

		check := HTTPHealthCheck("upstream", "http://127.0.0.1:1", 100*time.Millisecond)
		assert.Error(t, check.Check(context.Background()))
	})
}

func TestTCPHealthCheck(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	check := TCPHealthCheck("backend", listener.Addr().String(), time.Second)
	assert.NoError(t, check.Check(context.Background()))

	bad := TCPHealthCheck("backend", "127.0.0.1:1", 100*time.Millisecond)
	assert.Error(t, bad.Check(context.Background()))
}

func TestRedisHealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("reachable", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		check := RedisHealthCheck("redis", client)
		assert.NoError(t, check.Check(context.Background()))
	})

	t.Run("nil client", func(t *testing.T) {
		t.Parallel()

		check := RedisHealthCheck("redis", nil)
		assert.Error(t, check.Check(context.Background()))
	})
}

func TestStoreHealthCheck(t *testing.T) {
	t.Parallel()

	ok := StoreHealthCheck("mongodb", func(context.Context) error { return nil })
	assert.NoError(t, ok.Check(context.Background()))

	failing := StoreHealthCheck("mongodb", func(context.Context) error {
		return errors.New("server selection timeout")
	})
	err := failing.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store ping failed")

	nilPing := StoreHealthCheck("mongodb", nil)
	assert.Error(t, nilPing.Check(context.Background()))
}

func TestTimeoutHealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("fast check passes", func(t *testing.T) {
		t.Parallel()

		check := NewTimeoutHealthCheck(
			NewHealthCheckFunc("fast", func(context.Context) error { return nil }),
			time.Second,
		)
		assert.Equal(t, "fast", check.Name())
		assert.NoError(t, check.Check(context.Background()))
	})

	t.Run("slow check times out", func(t *testing.T) {
		t.Parallel()

		check := NewTimeoutHealthCheck(
			NewHealthCheckFunc("slow", func(ctx context.Context) error {
				select {
				case <-time.After(5 * time.Second):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
			50*time.Millisecond,
		)

		start := time.Now()
		err := check.Check(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestCachedHealthCheck(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := NewHealthCheckFunc("counted", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	check := NewCachedHealthCheck(inner, time.Minute)
	assert.Equal(t, "counted", check.Name())

	for i := 0; i < 5; i++ {
		require.NoError(t, check.Check(context.Background()))
	}

	assert.Equal(t, int32(1), calls.Load(), "result should be served from cache")
}

func TestCachedHealthCheck_Expiry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := NewHealthCheckFunc("counted", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	check := NewCachedHealthCheck(inner, 20*time.Millisecond)

	require.NoError(t, check.Check(context.Background()))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, check.Check(context.Background()))

	assert.Equal(t, int32(2), calls.Load())
}
