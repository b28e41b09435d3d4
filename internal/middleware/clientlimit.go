package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/arshealth/keygate/internal/observability"
)

// Client limiter default configuration constants.
const (
	// DefaultClientTTL is how long an idle client's bucket is retained.
	DefaultClientTTL = 10 * time.Minute

	// MinCleanupInterval is the minimum interval between cleanup sweeps.
	MinCleanupInterval = 10 * time.Second

	// MaxCleanupInterval is the maximum interval between cleanup sweeps.
	MaxCleanupInterval = time.Minute
)

// clientEntry holds a token bucket and its last access time for TTL-based
// eviction.
type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ClientLimiter applies a per-client token bucket to the management plane.
// It is anti-abuse plumbing for the management API, separate from the
// per-key fixed-window quota the gateway enforces.
type ClientLimiter struct {
	clients   map[string]*clientEntry
	mu        sync.Mutex
	rps       int
	burst     int
	logger    observability.Logger
	clientTTL time.Duration
	stopCh    chan struct{}
	stopped   bool
}

// ClientLimiterOption is a functional option for configuring the limiter.
type ClientLimiterOption func(*ClientLimiter)

// WithClientLimiterLogger sets the logger for the client limiter.
func WithClientLimiterLogger(logger observability.Logger) ClientLimiterOption {
	return func(cl *ClientLimiter) {
		cl.logger = logger
	}
}

// WithClientTTL sets how long idle client buckets are retained.
func WithClientTTL(ttl time.Duration) ClientLimiterOption {
	return func(cl *ClientLimiter) {
		if ttl > 0 {
			cl.clientTTL = ttl
		}
	}
}

// NewClientLimiter creates a per-client token bucket limiter allowing rps
// requests per second with the given burst.
func NewClientLimiter(rps, burst int, opts ...ClientLimiterOption) *ClientLimiter {
	cl := &ClientLimiter{
		clients:   make(map[string]*clientEntry),
		rps:       rps,
		burst:     burst,
		logger:    observability.NopLogger(),
		clientTTL: DefaultClientTTL,
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(cl)
	}

	return cl
}

// Allow reports whether the client may proceed, creating its bucket on
// first sight. Existence check and lastAccess update share one critical
// section so cleanup cannot race a live client.
func (cl *ClientLimiter) Allow(clientIP string) bool {
	now := time.Now()

	cl.mu.Lock()
	entry, exists := cl.clients[clientIP]
	if !exists {
		entry = &clientEntry{
			limiter:    rate.NewLimiter(rate.Limit(cl.rps), cl.burst),
			lastAccess: now,
		}
		cl.clients[clientIP] = entry
	} else {
		entry.lastAccess = now
	}
	limiter := entry.limiter
	cl.mu.Unlock()

	return limiter.Allow()
}

// CleanupIdleClients evicts buckets not accessed within maxAge.
func (cl *ClientLimiter) CleanupIdleClients(maxAge time.Duration) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	expired := make([]string, 0)
	for clientIP, entry := range cl.clients {
		if now.Sub(entry.lastAccess) > maxAge {
			expired = append(expired, clientIP)
		}
	}
	for _, clientIP := range expired {
		delete(cl.clients, clientIP)
	}

	if len(expired) > 0 {
		cl.logger.Debug("evicted idle client limiter entries",
			observability.Int("removed", len(expired)),
			observability.Int("remaining", len(cl.clients)),
		)
	}
}

// StartAutoCleanup starts the background eviction sweep. The sweep interval
// is half the TTL, clamped between MinCleanupInterval and
// MaxCleanupInterval.
func (cl *ClientLimiter) StartAutoCleanup() {
	cl.mu.Lock()
	if cl.stopped {
		cl.mu.Unlock()
		return
	}
	cl.mu.Unlock()

	go func() {
		interval := cl.clientTTL / 2
		if interval > MaxCleanupInterval {
			interval = MaxCleanupInterval
		}
		if interval < MinCleanupInterval {
			interval = MinCleanupInterval
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cl.CleanupIdleClients(cl.clientTTL)
			case <-cl.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (cl *ClientLimiter) Stop() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if !cl.stopped {
		cl.stopped = true
		close(cl.stopCh)
	}
}

// ClientCount returns the number of live client buckets.
func (cl *ClientLimiter) ClientCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.clients)
}

// ClientRateLimit returns a middleware that throttles each client IP with
// the given limiter. Throttled requests receive 429 with Retry-After.
func ClientRateLimit(cl *ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !cl.Allow(clientIP) {
			cl.logger.Warn("client throttled",
				observability.String("client_ip", clientIP),
				observability.String("path", c.Request.URL.Path),
			)
			GetMiddlewareMetrics().RecordClientThrottled()

			c.Header(HeaderRetryAfter, "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests",
			})
			return
		}

		c.Next()
	}
}
