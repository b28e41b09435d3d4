package main

import (
	"context"
	"fmt"
	"time"

	"github.com/arshealth/keygate/internal/audit"
	"github.com/arshealth/keygate/internal/auth/apikey"
	"github.com/arshealth/keygate/internal/auth/token"
	"github.com/arshealth/keygate/internal/cache"
	"github.com/arshealth/keygate/internal/config"
	"github.com/arshealth/keygate/internal/health"
	"github.com/arshealth/keygate/internal/keys"
	"github.com/arshealth/keygate/internal/middleware"
	"github.com/arshealth/keygate/internal/observability"
	"github.com/arshealth/keygate/internal/ratelimit"
	rlstore "github.com/arshealth/keygate/internal/ratelimit/store"
	"github.com/arshealth/keygate/internal/secrets"
	"github.com/arshealth/keygate/internal/server"
	"github.com/arshealth/keygate/internal/store"
)

// memoryJanitorInterval is how often the in-process counter store sweeps
// expired windows.
const memoryJanitorInterval = time.Minute

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 5 * time.Second

// application holds all application components in their start order.
type application struct {
	config        *config.Config
	logger        observability.Logger
	tracer        *observability.Tracer
	secrets       secrets.Provider
	store         store.Store
	limiter       ratelimit.Limiter
	apikeyMetrics *apikey.Metrics
	clientLimiter *middleware.ClientLimiter
	audit         audit.Logger
	health        *health.Handler
	server        *server.Server
}

// initApplication builds every component from the configuration, leaves
// first: secrets -> key material -> record store -> rate limiter ->
// validator -> management auth -> audit -> HTTP server.
func initApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	ctx := context.Background()

	tracer, err := initTracer(cfg)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	provider, err := secrets.New(&cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("secrets provider: %w", err)
	}

	pepper, err := secrets.GetValue(ctx, provider, cfg.Secrets.PepperPath, "value")
	if err != nil {
		return nil, fmt.Errorf("key-hash pepper: %w", err)
	}

	hasher, err := keys.NewHasher(cfg.Auth.HashAlgorithm, pepper)
	if err != nil {
		return nil, fmt.Errorf("hasher: %w", err)
	}
	generator := keys.NewGenerator(cfg.Auth.KeyPrefix)

	recordStore, err := initRecordStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	limiter, counterStore, err := initLimiter(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	apikeyMetrics := apikey.NewMetrics("keygate")
	apikeyMetrics.Init()

	validator, err := initValidator(cfg, hasher, recordStore, apikeyMetrics, logger)
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}

	verifier, err := initVerifier(ctx, cfg, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}

	clientLimiter := middleware.NewClientLimiter(
		cfg.Management.ClientRPS,
		cfg.Management.ClientBurst,
		middleware.WithClientLimiterLogger(logger),
	)
	clientLimiter.StartAutoCleanup()

	auditLogger, err := audit.NewLogger(&audit.Config{
		Enabled:    cfg.Audit.Enabled,
		Output:     cfg.Audit.Output,
		BufferSize: cfg.Audit.BufferSize,
	}, audit.WithLoggerLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	healthHandler := initHealth(recordStore, counterStore, provider, logger)

	srv, err := server.New(server.Options{
		Config:                  cfg.Server,
		Logger:                  logger,
		Store:                   recordStore,
		Generator:               generator,
		Hasher:                  hasher,
		Validator:               validator,
		Limiter:                 limiter,
		Verifier:                verifier,
		Extractor:               buildExtractor(&cfg.Auth),
		ClientLimiter:           clientLimiter,
		Audit:                   auditLogger,
		Health:                  healthHandler,
		DefaultRateLimitPerHour: cfg.Auth.DefaultRateLimitPerHour,
		TracingEnabled:          cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	return &application{
		config:        cfg,
		logger:        logger,
		tracer:        tracer,
		secrets:       provider,
		store:         recordStore,
		limiter:       limiter,
		apikeyMetrics: apikeyMetrics,
		clientLimiter: clientLimiter,
		audit:         auditLogger,
		health:        healthHandler,
		server:        srv,
	}, nil
}

// initTracer builds the tracer; disabled tracing yields no-op spans.
func initTracer(cfg *config.Config) (*observability.Tracer, error) {
	return observability.NewTracer(observability.TracerConfig{
		ServiceName:    "keygate",
		ServiceVersion: version,
		Enabled:        cfg.Tracing.Enabled,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
	})
}

// initRecordStore builds the configured key record store, wrapped with a
// circuit breaker when enabled so outages surface as ErrStoreUnavailable
// instead of credential rejections.
func initRecordStore(ctx context.Context, cfg *config.Config, logger observability.Logger) (store.Store, error) {
	var inner store.Store

	switch cfg.Store.Type {
	case config.StoreTypeMongo:
		mongoStore, err := store.NewMongoStore(ctx, &store.MongoStoreConfig{
			URI:              cfg.Store.Mongo.URI,
			Database:         cfg.Store.Mongo.Database,
			Collection:       cfg.Store.Mongo.Collection,
			ConnectTimeout:   cfg.Store.Mongo.ConnectTimeout.Duration(),
			OperationTimeout: cfg.Store.Mongo.OperationTimeout.Duration(),
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		inner = mongoStore
	case config.StoreTypeMemory:
		inner = store.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}

	if !cfg.Store.Breaker.Enabled {
		return inner, nil
	}

	return store.NewBreakerStore(inner, &store.BreakerConfig{
		Name:             "record-store",
		FailureThreshold: uint32(cfg.Store.Breaker.FailureThreshold),
		OpenTimeout:      cfg.Store.Breaker.OpenTimeout.Duration(),
		Logger:           logger,
	}), nil
}

// initLimiter builds the fixed-window rate limiter over the configured
// counter store. Disabled rate limiting yields a limiter that always allows
// and no counter store.
func initLimiter(cfg *config.Config, logger observability.Logger) (ratelimit.Limiter, rlstore.Store, error) {
	if !cfg.RateLimit.Enabled {
		return ratelimit.NewNoopLimiter(), nil, nil
	}

	var counterStore rlstore.Store
	switch cfg.RateLimit.Store {
	case config.RateLimitStoreRedis:
		redisStore, err := rlstore.NewRedisStore(&rlstore.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout.Duration(),
			ReadTimeout:  cfg.Redis.ReadTimeout.Duration(),
			WriteTimeout: cfg.Redis.WriteTimeout.Duration(),
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		counterStore = redisStore
	case config.RateLimitStoreMemory:
		counterStore = rlstore.NewMemoryStore(memoryJanitorInterval)
	default:
		return nil, nil, fmt.Errorf("unknown rate limit store %q", cfg.RateLimit.Store)
	}

	limiter := ratelimit.NewFixedWindowLimiter(
		counterStore,
		cfg.RateLimit.Window.Duration(),
		ratelimit.WithLimiterLogger(logger),
	)
	return limiter, counterStore, nil
}

// initValidator builds the validation gateway, attaching the optional
// single-process record cache.
func initValidator(
	cfg *config.Config,
	hasher *keys.Hasher,
	recordStore store.Store,
	metrics *apikey.Metrics,
	logger observability.Logger,
) (apikey.Validator, error) {
	opts := []apikey.ValidatorOption{
		apikey.WithValidatorLogger(logger),
		apikey.WithValidatorMetrics(metrics),
	}

	if cfg.Auth.Cache.Enabled {
		recordCache := cache.NewMemory(cfg.Auth.Cache.MaxEntries, cfg.Auth.Cache.TTL.Duration())
		opts = append(opts, apikey.WithRecordCache(recordCache, cfg.Auth.Cache.TTL.Duration()))
	}

	return apikey.NewValidator(hasher, recordStore, opts...)
}

// initVerifier builds the management-plane bearer token verifier from the
// signing secret held by the secrets provider.
func initVerifier(
	ctx context.Context,
	cfg *config.Config,
	provider secrets.Provider,
	logger observability.Logger,
) (token.Verifier, error) {
	signingKey, err := secrets.GetValue(ctx, provider, cfg.Secrets.TokenKeyPath, "value")
	if err != nil {
		return nil, fmt.Errorf("management token key: %w", err)
	}

	return token.NewVerifier(token.Config{
		Key:      signingKey,
		Issuer:   cfg.Management.Issuer,
		Audience: cfg.Management.Audience,
	}, token.WithVerifierLogger(logger))
}

// buildExtractor assembles the credential extraction chain: the API key
// header first, then Authorization: Bearer, then the query parameter.
func buildExtractor(cfg *config.AuthConfig) apikey.Extractor {
	extractors := []apikey.Extractor{
		apikey.NewHeaderExtractor(cfg.Header, ""),
	}

	if cfg.AllowBearer {
		extractors = append(extractors, apikey.NewHeaderExtractor("Authorization", "Bearer "))
	}

	if cfg.QueryParam != "" {
		extractors = append(extractors, apikey.NewQueryExtractor(cfg.QueryParam))
	}

	return apikey.NewCompositeExtractor(extractors...)
}

// initHealth registers the dependency probes on the health handler.
func initHealth(
	recordStore store.Store,
	counterStore rlstore.Store,
	provider secrets.Provider,
	logger observability.Logger,
) *health.Handler {
	h := health.NewHandler(logger, health.WithVersion(version))

	h.AddCheck(health.NewTimeoutHealthCheck(
		health.NewDependencyCheck("record_store", health.DependencyTypeDatabase, recordStore.Ping),
		healthCheckTimeout,
	))

	h.AddCheck(health.NewTimeoutHealthCheck(
		health.NewDependencyCheck("secrets", health.DependencyTypeSecrets, provider.HealthCheck,
			health.WithCritical(false)),
		healthCheckTimeout,
	))

	if counterStore != nil {
		h.AddCheck(health.NewTimeoutHealthCheck(
			health.NewDependencyCheck("window_store", health.DependencyTypeCache,
				func(ctx context.Context) error {
					_, _, err := counterStore.Peek(ctx, "health:probe")
					return err
				}),
			healthCheckTimeout,
		))
	}

	return h
}
