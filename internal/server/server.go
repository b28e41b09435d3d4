// Package server exposes the keygate HTTP surface: the key lifecycle
// management API, the gateway self-test endpoint, and health probes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/arshealth/keygate/internal/audit"
	"github.com/arshealth/keygate/internal/auth/apikey"
	"github.com/arshealth/keygate/internal/auth/token"
	"github.com/arshealth/keygate/internal/config"
	"github.com/arshealth/keygate/internal/health"
	"github.com/arshealth/keygate/internal/keys"
	"github.com/arshealth/keygate/internal/middleware"
	"github.com/arshealth/keygate/internal/observability"
	"github.com/arshealth/keygate/internal/ratelimit"
	"github.com/arshealth/keygate/internal/store"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions when multiple servers are constructed.
var ginModeOnce sync.Once

// Options holds the collaborators and configuration for the HTTP server.
type Options struct {
	Config config.ServerConfig
	Logger observability.Logger

	// Store persists key records.
	Store store.Store

	// Generator mints plaintext keys; Hasher digests them for storage.
	Generator *keys.Generator
	Hasher    *keys.Hasher

	// Validator resolves presented keys for the gateway chain and purges
	// its cache when records change.
	Validator apikey.Validator

	// Limiter enforces and reports per-key hourly quotas.
	Limiter ratelimit.Limiter

	// Verifier authenticates management plane bearer tokens.
	Verifier token.Verifier

	// Extractor locates presented API keys on gateway requests.
	Extractor apikey.Extractor

	// ClientLimiter shields the management plane per client IP.
	ClientLimiter *middleware.ClientLimiter

	// Audit receives authentication and lifecycle decisions.
	Audit audit.Logger

	// Health serves the probe endpoints when set.
	Health *health.Handler

	// DefaultRateLimitPerHour is the quota applied to new keys that do
	// not carry one.
	DefaultRateLimitPerHour int

	// TracingEnabled adds the OpenTelemetry span middleware.
	TracingEnabled bool
}

// Server is the keygate HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	logger     observability.Logger
	mu         sync.RWMutex
	running    bool
}

// New assembles the middleware chain, the management routes and the
// gateway self-test endpoint.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("key generator is required")
	}
	if opts.Hasher == nil {
		return nil, fmt.Errorf("key hasher is required")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("api key validator is required")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNoopLogger()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewNoopLimiter()
	}
	if opts.DefaultRateLimitPerHour <= 0 {
		opts.DefaultRateLimitPerHour = config.DefaultRateLimitPerHour
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(
		middleware.Recovery(opts.Logger),
		middleware.RequestID(),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    opts.Logger,
			SkipPaths: []string{"/health", "/healthz", "/livez", "/readyz", "/ready"},
		}),
	)
	if opts.TracingEnabled {
		engine.Use(middleware.Tracing("keygate"))
	}
	engine.Use(middleware.Metrics())

	s := &Server{
		engine: engine,
		config: opts.Config,
		logger: opts.Logger,
	}
	s.registerRoutes(opts)

	return s, nil
}

// registerRoutes wires the probe, management and gateway endpoints.
func (s *Server) registerRoutes(opts Options) {
	if opts.Health != nil {
		opts.Health.RegisterRoutes(s.engine)
	}

	handler := newKeyHandler(opts)

	v1 := s.engine.Group("/api/v1")

	// Management plane: bearer token auth behind a per-client throttle.
	keysGroup := v1.Group("/keys")
	if opts.ClientLimiter != nil {
		keysGroup.Use(middleware.ClientRateLimit(opts.ClientLimiter))
	}
	keysGroup.Use(middleware.RequireToken(opts.Verifier, opts.Logger))
	keysGroup.POST("", handler.CreateKey)
	keysGroup.GET("", handler.ListKeys)
	keysGroup.GET("/:id", handler.GetKey)
	keysGroup.PATCH("/:id", handler.UpdateKey)
	keysGroup.DELETE("/:id", handler.DeactivateKey)
	keysGroup.GET("/:id/usage", handler.KeyUsage)

	// Gateway self-test: the full API key chain guards this endpoint.
	v1.GET("/auth/verify",
		middleware.RequireAPIKey(middleware.APIKeyAuthConfig{
			Validator: opts.Validator,
			Extractor: opts.Extractor,
			Limiter:   opts.Limiter,
			Audit:     opts.Audit,
			Logger:    opts.Logger,
		}),
		handler.VerifyKey,
	)
}

// Engine returns the underlying gin engine, used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start runs the HTTP server until it is shut down. It blocks, so callers
// typically run it in a goroutine and use Stop for graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout.Duration(),
		WriteTimeout: s.config.WriteTimeout.Duration(),
		IdleTimeout:  s.config.IdleTimeout.Duration(),
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", addr),
		observability.Duration("read_timeout", s.config.ReadTimeout.Duration()),
		observability.Duration("write_timeout", s.config.WriteTimeout.Duration()),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop shuts the server down gracefully, draining in-flight requests until
// ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
