package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DependencyType represents the type of dependency.
type DependencyType string

const (
	// DependencyTypeDatabase is a database dependency.
	DependencyTypeDatabase DependencyType = "database"
	// DependencyTypeCache is a cache dependency.
	DependencyTypeCache DependencyType = "cache"
	// DependencyTypeSecrets is a secrets provider dependency.
	DependencyTypeSecrets DependencyType = "secrets"
	// DependencyTypeHTTP is an HTTP service dependency.
	DependencyTypeHTTP DependencyType = "http"
	// DependencyTypeTCP is a TCP service dependency.
	DependencyTypeTCP DependencyType = "tcp"
	// DependencyTypeCustom is a custom dependency.
	DependencyTypeCustom DependencyType = "custom"
)

// DependencyCheck represents a dependency health check. Every run is
// recorded in the health metrics.
type DependencyCheck struct {
	name     string
	depType  DependencyType
	checkFn  func(ctx context.Context) error
	critical bool
}

// Name returns the name of the dependency check.
func (d *DependencyCheck) Name() string {
	return d.name
}

// Check performs the dependency health check.
func (d *DependencyCheck) Check(ctx context.Context) error {
	start := time.Now()
	err := d.checkFn(ctx)
	duration := time.Since(start).Seconds()

	healthy := err == nil
	RecordHealthCheck(d.name, healthy, duration)
	SetDependencyHealthStatus(d.name, string(d.depType), healthy)

	return err
}

// IsCritical returns true if the dependency is critical.
func (d *DependencyCheck) IsCritical() bool {
	return d.critical
}

// DependencyCheckOption is a function that configures a DependencyCheck.
type DependencyCheckOption func(*DependencyCheck)

// WithCritical marks the dependency as critical.
func WithCritical(critical bool) DependencyCheckOption {
	return func(d *DependencyCheck) {
		d.critical = critical
	}
}

// NewDependencyCheck creates a new dependency check.
func NewDependencyCheck(
	name string,
	depType DependencyType,
	checkFn func(ctx context.Context) error,
	opts ...DependencyCheckOption,
) *DependencyCheck {
	d := &DependencyCheck{
		name:     name,
		depType:  depType,
		checkFn:  checkFn,
		critical: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HTTPHealthCheck creates an HTTP health check.
func HTTPHealthCheck(name, url string, timeout time.Duration, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeHTTP, func(ctx context.Context) error {
		client := &http.Client{
			Timeout: timeout,
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
		}

		return nil
	}, opts...)
}

// TCPHealthCheck creates a TCP health check.
func TCPHealthCheck(name, address string, timeout time.Duration, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeTCP, func(ctx context.Context) error {
		dialer := &net.Dialer{
			Timeout: timeout,
		}

		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer conn.Close()

		return nil
	}, opts...)
}

// RedisHealthCheck creates a health check for the rate-limit backend.
func RedisHealthCheck(name string, client redis.UniversalClient, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeCache, func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("redis client is nil")
		}

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		return nil
	}, opts...)
}

// StoreHealthCheck creates a health check for the key record store.
func StoreHealthCheck(name string, ping func(ctx context.Context) error, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeDatabase, func(ctx context.Context) error {
		if ping == nil {
			return fmt.Errorf("store is nil")
		}

		if err := ping(ctx); err != nil {
			return fmt.Errorf("store ping failed: %w", err)
		}

		return nil
	}, opts...)
}

// SecretsHealthCheck creates a health check for the secrets provider.
func SecretsHealthCheck(name string, check func(ctx context.Context) error, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeSecrets, check, opts...)
}

// CustomHealthCheck creates a custom health check.
func CustomHealthCheck(
	name string,
	checkFn func(ctx context.Context) error,
	opts ...DependencyCheckOption,
) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeCustom, checkFn, opts...)
}

// TimeoutHealthCheck wraps a health check with a timeout.
type TimeoutHealthCheck struct {
	check   HealthCheck
	timeout time.Duration
}

// NewTimeoutHealthCheck creates a new timeout health check.
func NewTimeoutHealthCheck(check HealthCheck, timeout time.Duration) *TimeoutHealthCheck {
	return &TimeoutHealthCheck{
		check:   check,
		timeout: timeout,
	}
}

// Name returns the name of the health check.
func (t *TimeoutHealthCheck) Name() string {
	return t.check.Name()
}

// Check performs the health check with a timeout.
func (t *TimeoutHealthCheck) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.check.Check(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("health check timed out after %v", t.timeout)
	}
}

// CachedHealthCheck caches health check results so probe traffic does
// not hammer the dependency.
type CachedHealthCheck struct {
	check      HealthCheck
	cacheTTL   time.Duration
	mu         sync.RWMutex
	lastCheck  time.Time
	lastResult error
}

// NewCachedHealthCheck creates a new cached health check.
func NewCachedHealthCheck(check HealthCheck, cacheTTL time.Duration) *CachedHealthCheck {
	return &CachedHealthCheck{
		check:    check,
		cacheTTL: cacheTTL,
	}
}

// Name returns the name of the health check.
func (c *CachedHealthCheck) Name() string {
	return c.check.Name()
}

// Check performs the health check with caching.
func (c *CachedHealthCheck) Check(ctx context.Context) error {
	// First, try to read from cache with read lock
	c.mu.RLock()
	if time.Since(c.lastCheck) < c.cacheTTL {
		result := c.lastResult
		c.mu.RUnlock()
		return result
	}
	c.mu.RUnlock()

	// Cache expired, need to refresh with write lock
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if time.Since(c.lastCheck) < c.cacheTTL {
		return c.lastResult
	}

	c.lastResult = c.check.Check(ctx)
	c.lastCheck = time.Now()
	return c.lastResult
}
