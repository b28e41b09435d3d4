package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/arshealth/keygate/internal/observability"
)

// Prometheus metrics for Redis counter operations.
var (
	redisStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_redis_operations_total",
			Help: "Total number of Redis rate limit store operations",
		},
		[]string{"operation", "status"},
	)

	redisStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limit_redis_operation_duration_seconds",
			Help:    "Duration of Redis rate limit store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	redisStoreConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_redis_connection_errors_total",
			Help: "Total number of Redis connection errors",
		},
	)
)

// incrementWithTTLScript atomically increments a counter, starts the window
// TTL on the first increment, and returns {count, pttl} in one round trip.
// The PTTL==-1 branch heals counters that lost their expiry.
// KEYS[1] = counter key
// ARGV[1] = delta
// ARGV[2] = window TTL in milliseconds
var incrementWithTTLScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl == -1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		ttl = tonumber(ARGV[2])
	end
	return {current, ttl}
`)

// RedisConfig holds configuration for the Redis counter store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// Connection pool settings.
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// Timeouts.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Connection retry settings.
	ConnectionRetries int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	// Logger for the store.
	Logger observability.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		DB:                0,
		PoolSize:          10,
		MinIdleConns:      2,
		MaxRetries:        3,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      3 * time.Second,
		ConnectionRetries: 5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
	}
}

// RedisStore implements Store using Redis.
type RedisStore struct {
	client redis.UniversalClient
	logger observability.Logger
}

// NewRedisStore creates a Redis counter store and verifies connectivity
// with exponential backoff.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := pingWithRetry(client, cfg, logger); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("redis rate limit store initialized",
		observability.String("address", cfg.Address),
		observability.Int("db", cfg.DB),
	)

	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client redis.UniversalClient, logger observability.Logger) *RedisStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisStore{client: client, logger: logger}
}

// pingWithRetry verifies connectivity, backing off with jitter between
// attempts.
func pingWithRetry(client redis.UniversalClient, cfg *RedisConfig, logger observability.Logger) error {
	attempts := cfg.ConnectionRetries
	if attempts <= 0 {
		attempts = 5
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		lastErr = client.Ping(ctx).Err()
		cancel()

		if lastErr == nil {
			return nil
		}

		redisStoreConnectionErrors.Inc()
		if attempt == attempts {
			break
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff))) //nolint:gosec // jitter, not crypto
		logger.Warn("redis connection failed, retrying",
			observability.String("address", cfg.Address),
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", sleep),
			observability.Error(lastErr),
		)
		time.Sleep(sleep)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("failed to connect to redis after %d attempts: %w", attempts+1, lastErr)
}

// IncrementWithTTL implements Store via the atomic Lua script.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Duration, error) {
	start := time.Now()

	result, err := incrementWithTTLScript.Run(ctx, s.client, []string{key}, delta, ttl.Milliseconds()).Result()
	if err != nil {
		s.observe("increment", "error", start)
		return 0, 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		s.observe("increment", "error", start)
		return 0, 0, fmt.Errorf("unexpected script result: %v", result)
	}

	count, _ := values[0].(int64)
	ttlMillis, _ := values[1].(int64)

	s.observe("increment", "success", start)
	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// Peek implements Store with a pipelined GET + PTTL.
func (s *RedisStore) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	start := time.Now()

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.observe("peek", "error", start)
		return 0, 0, fmt.Errorf("failed to read counter: %w", err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.observe("peek", "success", start)
			return 0, 0, nil
		}
		s.observe("peek", "error", start)
		return 0, 0, fmt.Errorf("failed to parse counter: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	s.observe("peek", "success", start)
	return count, ttl, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.observe("delete", "error", start)
		return fmt.Errorf("failed to delete counter: %w", err)
	}

	s.observe("delete", "success", start)
	return nil
}

// Ping verifies connectivity to the backing Redis. Used by readiness
// probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// observe records operation metrics.
func (s *RedisStore) observe(operation, status string, start time.Time) {
	redisStoreOperationsTotal.WithLabelValues(operation, status).Inc()
	redisStoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
