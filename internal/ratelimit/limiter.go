// Package ratelimit enforces per-key hourly request quotas using fixed
// windows. Counter state lives in Redis (or memory) with a window TTL, so
// stale windows clean themselves up without a sweeper.
package ratelimit

import (
	"context"
	"time"
)

// KeyPrefix is the counter key namespace shared with the original backend.
const KeyPrefix = "api_key_rate_limit:"

// DefaultWindow is the quota window.
const DefaultWindow = time.Hour

// counterKey builds the storage key for an API key id.
func counterKey(keyID string) string {
	return KeyPrefix + keyID
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the key's quota for the window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the current window expires.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (set when denied).
	RetryAfter time.Duration
}

// Usage is a read-only snapshot of a key's current window, for the
// management API.
type Usage struct {
	// RequestsThisHour is the consumed request count, clamped at Limit.
	RequestsThisHour int

	// Limit is the key's quota for the window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// WindowResetsIn is the duration until the current window expires.
	// Zero when no window is live.
	WindowResetsIn time.Duration
}

// Limiter checks and reports per-key quotas. The limit travels with each
// call because every API key carries its own quota.
type Limiter interface {
	// Allow counts one request against keyID's window and reports whether
	// it fits within limit. Denied results carry RetryAfter.
	Allow(ctx context.Context, keyID string, limit int) (*Result, error)

	// Usage returns the current window snapshot without counting a request.
	Usage(ctx context.Context, keyID string, limit int) (*Usage, error)

	// Reset clears keyID's live window.
	Reset(ctx context.Context, keyID string) error

	// Close releases limiter resources.
	Close() error
}

// NoopLimiter always allows. Used when rate limiting is disabled.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never denies.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(_ context.Context, _ string, limit int) (*Result, error) {
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit,
	}, nil
}

// Usage implements Limiter.
func (l *NoopLimiter) Usage(_ context.Context, _ string, limit int) (*Usage, error) {
	return &Usage{
		Limit:     limit,
		Remaining: limit,
	}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(_ context.Context, _ string) error {
	return nil
}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}

// Ensure NoopLimiter implements Limiter.
var _ Limiter = (*NoopLimiter)(nil)
