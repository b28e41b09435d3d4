package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arshealth/keygate/internal/cache"
	"github.com/arshealth/keygate/internal/keys"
	"github.com/arshealth/keygate/internal/observability"
	"github.com/arshealth/keygate/internal/store"
)

// Common errors for API key validation. Each failure mode is distinct;
// callers map them to responses without collapsing reasons.
var (
	// ErrMissingCredential indicates no API key was presented.
	ErrMissingCredential = errors.New("missing API key credential")

	// ErrCredentialNotFound indicates the presented key matches no record.
	ErrCredentialNotFound = errors.New("API key not recognized")

	// ErrCredentialInactive indicates the key record was deactivated.
	ErrCredentialInactive = errors.New("API key is inactive")

	// ErrCredentialExpired indicates the key record is past its expiry.
	ErrCredentialExpired = errors.New("API key has expired")

	// ErrRateLimitExceeded indicates the key exhausted its hourly quota.
	// It is returned by the middleware layer, never by Validate itself.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// defaultLastUsedTimeout bounds the async last_used_at write.
const defaultLastUsedTimeout = 5 * time.Second

// validatorTracer is the OTEL tracer for validation spans.
var validatorTracer = otel.Tracer("keygate/apikey")

// KeyInfo is the identity resolved from a validated API key.
type KeyInfo struct {
	// ID is the key record identifier.
	ID string `json:"id"`

	// OwnerID identifies who the key was issued to.
	OwnerID string `json:"owner_id"`

	// Name is the human-readable key name.
	Name string `json:"name"`

	// KeyPrefix is the displayable leading fragment of the key.
	KeyPrefix string `json:"key_prefix,omitempty"`

	// Permissions is the set granted to the key.
	Permissions PermissionSet `json:"permissions"`

	// RateLimitPerHour is the key's hourly quota.
	RateLimitPerHour int `json:"rate_limit_per_hour"`

	// ExpiresAt is when the key expires, if ever.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// LastUsedAt is when the key last authenticated a request.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Validator validates presented API keys.
type Validator interface {
	// Validate resolves a presented key to its identity, or one of the
	// package errors.
	Validate(ctx context.Context, presented string) (*KeyInfo, error)

	// Invalidate drops the cached record for a key digest. Called on
	// deactivation and rotation so stale grants never outlive them.
	Invalidate(ctx context.Context, keyHash string)
}

// validator implements the Validator interface.
type validator struct {
	hasher          *keys.Hasher
	store           store.Store
	cache           cache.Cache
	cacheTTL        time.Duration
	logger          observability.Logger
	metrics         *Metrics
	lastUsedTimeout time.Duration
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*validator)

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *validator) {
		v.logger = logger
	}
}

// WithValidatorMetrics sets the metrics for the validator.
func WithValidatorMetrics(metrics *Metrics) ValidatorOption {
	return func(v *validator) {
		v.metrics = metrics
	}
}

// WithRecordCache caches validated records by digest for ttl. The cache
// is coherent within this process only; Invalidate covers local mutations.
func WithRecordCache(c cache.Cache, ttl time.Duration) ValidatorOption {
	return func(v *validator) {
		v.cache = c
		v.cacheTTL = ttl
	}
}

// WithLastUsedTimeout bounds the async last_used_at update.
func WithLastUsedTimeout(d time.Duration) ValidatorOption {
	return func(v *validator) {
		if d > 0 {
			v.lastUsedTimeout = d
		}
	}
}

// NewValidator creates an API key validator over a hasher and a record
// store.
func NewValidator(hasher *keys.Hasher, st store.Store, opts ...ValidatorOption) (Validator, error) {
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	v := &validator{
		hasher:          hasher,
		store:           st,
		logger:          observability.NopLogger(),
		lastUsedTimeout: defaultLastUsedTimeout,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.metrics == nil {
		v.metrics = GetSharedMetrics()
	}

	return v, nil
}

// Validate implements Validator.
func (v *validator) Validate(ctx context.Context, presented string) (*KeyInfo, error) {
	start := time.Now()

	ctx, span := validatorTracer.Start(ctx, "apikey.validate",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	if strings.TrimSpace(presented) == "" {
		v.observe(span, "error", "missing", start)
		return nil, ErrMissingCredential
	}

	digest := v.hasher.Hash(presented)

	record, fromCache, err := v.lookup(ctx, digest)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			v.observe(span, "error", "not_found", start)
			return nil, ErrCredentialNotFound
		}
		v.observe(span, "error", "store_error", start)
		if errors.Is(err, store.ErrStoreUnavailable) {
			return nil, fmt.Errorf("api key lookup failed: %w", err)
		}
		return nil, fmt.Errorf("api key lookup failed: %w: %w", store.ErrStoreUnavailable, err)
	}

	// Inactive wins over expired for a key that is both.
	if !record.IsActive {
		v.observe(span, "error", "inactive", start)
		return nil, ErrCredentialInactive
	}

	if record.IsExpired() {
		v.observe(span, "error", "expired", start)
		return nil, ErrCredentialExpired
	}

	if !fromCache {
		v.cacheRecord(ctx, digest, record)
	}

	v.touchLastUsed(record.ID)

	v.observe(span, "success", "valid", start)
	v.logger.Debug("api key validated",
		observability.String("key_id", record.ID),
		observability.String("owner_id", record.OwnerID),
	)

	return keyInfoFromRecord(record), nil
}

// Invalidate implements Validator.
func (v *validator) Invalidate(ctx context.Context, keyHash string) {
	if v.cache == nil || keyHash == "" {
		return
	}
	if err := v.cache.Delete(ctx, keyHash); err != nil {
		v.logger.Warn("failed to invalidate cached key record",
			observability.Error(err),
		)
	}
}

// lookup resolves a digest to a record, consulting the cache first.
func (v *validator) lookup(ctx context.Context, digest string) (*store.Record, bool, error) {
	if v.cache != nil {
		if raw, err := v.cache.Get(ctx, digest); err == nil {
			var record store.Record
			if err := json.Unmarshal(raw, &record); err == nil {
				v.metrics.RecordCacheHit()
				return &record, true, nil
			}
			// Unreadable entry; drop it and fall through to the store.
			_ = v.cache.Delete(ctx, digest)
		}
		v.metrics.RecordCacheMiss()
	}

	record, err := v.store.GetByHash(ctx, digest)
	if err != nil {
		return nil, false, err
	}
	return record, false, nil
}

// cacheRecord stores a validated record under its digest.
func (v *validator) cacheRecord(ctx context.Context, digest string, record *store.Record) {
	if v.cache == nil {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := v.cache.Set(ctx, digest, raw, v.cacheTTL); err != nil {
		v.logger.Warn("failed to cache key record",
			observability.Error(err),
		)
	}
}

// touchLastUsed updates last_used_at in the background. Failures are
// logged and swallowed; the validation outcome never depends on them.
func (v *validator) touchLastUsed(id string) {
	now := time.Now().UTC()
	timeout := v.lastUsedTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := v.store.UpdateLastUsed(ctx, id, now); err != nil {
			v.logger.Debug("last_used_at update failed",
				observability.String("key_id", id),
				observability.Error(err),
			)
		}
	}()
}

// observe records one validation outcome in metrics and on the span.
func (v *validator) observe(span trace.Span, status, reason string, start time.Time) {
	v.metrics.RecordValidation(status, reason, time.Since(start))
	span.SetAttributes(attribute.String("apikey.result", reason))
}

// keyInfoFromRecord maps a record to the resolved identity.
func keyInfoFromRecord(record *store.Record) *KeyInfo {
	return &KeyInfo{
		ID:               record.ID,
		OwnerID:          record.OwnerID,
		Name:             record.Name,
		KeyPrefix:        record.KeyPrefix,
		Permissions:      PermissionSet(record.Permissions),
		RateLimitPerHour: record.RateLimitPerHour,
		ExpiresAt:        record.ExpiresAt,
		LastUsedAt:       record.LastUsedAt,
	}
}

// Ensure validator implements Validator.
var _ Validator = (*validator)(nil)
