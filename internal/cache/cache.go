// Package cache provides a small in-process TTL cache used to keep
// validated key records warm between requests.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss indicates that the key was not found in the cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores opaque byte values under string keys with per-entry TTLs.
type Cache interface {
	// Get retrieves a value. Returns ErrCacheMiss if the key is absent
	// or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A TTL of 0 uses the cache's
	// default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases cache resources.
	Close() error
}

// Stats contains cache counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
