// Package store provides counter storage backends for rate limiting.
package store

import (
	"context"
	"time"
)

// Store is the counter primitive behind the fixed-window limiter. The
// increment and the window TTL are applied atomically in one operation so
// concurrent checks never race a window into existence twice.
type Store interface {
	// IncrementWithTTL atomically increments key by delta. The first
	// increment of a window starts its TTL. Returns the post-increment
	// count and the remaining window TTL.
	IncrementWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Duration, error)

	// Peek returns the current count and remaining TTL without counting
	// a request. A missing key yields (0, 0, nil).
	Peek(ctx context.Context, key string) (int64, time.Duration, error)

	// Delete clears the counter.
	Delete(ctx context.Context, key string) error

	// Close releases store resources.
	Close() error
}
