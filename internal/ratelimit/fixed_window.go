package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/arshealth/keygate/internal/observability"
	"github.com/arshealth/keygate/internal/ratelimit/store"
)

// FixedWindowLimiter counts requests per key in fixed windows. The window
// starts at a key's first request and lives exactly one TTL; a client can
// therefore burst up to twice its quota across a window boundary. That
// looseness is accepted in exchange for a single atomic round trip per
// check.
type FixedWindowLimiter struct {
	store  store.Store
	window time.Duration
	logger observability.Logger
}

// FixedWindowOption is a functional option for the limiter.
type FixedWindowOption func(*FixedWindowLimiter)

// WithLimiterLogger sets the logger for the limiter.
func WithLimiterLogger(logger observability.Logger) FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// NewFixedWindowLimiter creates a fixed window limiter over the given
// counter store. A non-positive window falls back to one hour.
func NewFixedWindowLimiter(s store.Store, window time.Duration, opts ...FixedWindowOption) *FixedWindowLimiter {
	if window <= 0 {
		window = DefaultWindow
	}

	l := &FixedWindowLimiter{
		store:  s,
		window: window,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow implements Limiter. The counter is incremented before the limit is
// checked, so denied requests still consume nothing extra: the count past
// the limit only widens the recorded overage.
func (l *FixedWindowLimiter) Allow(ctx context.Context, keyID string, limit int) (*Result, error) {
	start := time.Now()

	if limit <= 0 {
		// No quota configured for this key; let it through.
		recordDecision("allowed_unlimited", time.Since(start))
		return &Result{Allowed: true, Limit: limit}, nil
	}

	count, ttl, err := l.store.IncrementWithTTL(ctx, counterKey(keyID), 1, l.window)
	if err != nil {
		recordDecision("error", time.Since(start))
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:    int(count) <= limit,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: ttl,
	}

	if !result.Allowed {
		result.RetryAfter = ttl
		recordDecision("denied", time.Since(start))
		l.logger.Debug("rate limit exceeded",
			observability.String("key_id", keyID),
			observability.Int("limit", limit),
			observability.Int64("count", count),
			observability.Duration("retry_after", ttl),
		)
		return result, nil
	}

	recordDecision("allowed", time.Since(start))
	return result, nil
}

// Usage implements Limiter. Counts report clamped at the limit so overage
// from denied attempts never shows as more than the quota.
func (l *FixedWindowLimiter) Usage(ctx context.Context, keyID string, limit int) (*Usage, error) {
	count, ttl, err := l.store.Peek(ctx, counterKey(keyID))
	if err != nil {
		return nil, fmt.Errorf("rate limit usage read failed: %w", err)
	}

	used := int(count)
	if limit > 0 && used > limit {
		used = limit
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return &Usage{
		RequestsThisHour: used,
		Limit:            limit,
		Remaining:        remaining,
		WindowResetsIn:   ttl,
	}, nil
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, keyID string) error {
	return l.store.Delete(ctx, counterKey(keyID))
}

// Close implements Limiter.
func (l *FixedWindowLimiter) Close() error {
	return l.store.Close()
}

// Ensure FixedWindowLimiter implements Limiter.
var _ Limiter = (*FixedWindowLimiter)(nil)
