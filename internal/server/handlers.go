package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arshealth/keygate/internal/audit"
	"github.com/arshealth/keygate/internal/auth/apikey"
	"github.com/arshealth/keygate/internal/keys"
	"github.com/arshealth/keygate/internal/middleware"
	"github.com/arshealth/keygate/internal/observability"
	"github.com/arshealth/keygate/internal/ratelimit"
	"github.com/arshealth/keygate/internal/store"
)

// Key name bounds enforced on create and rename.
const (
	minKeyNameLength = 3
	maxKeyNameLength = 50
)

// keyHandler serves the key lifecycle management API. Every handler
// resolves the caller from the bearer token principal; records are only
// ever visible to their owner.
type keyHandler struct {
	store            store.Store
	generator        *keys.Generator
	hasher           *keys.Hasher
	validator        apikey.Validator
	limiter          ratelimit.Limiter
	audit            audit.Logger
	logger           observability.Logger
	defaultRateLimit int
}

func newKeyHandler(opts Options) *keyHandler {
	return &keyHandler{
		store:            opts.Store,
		generator:        opts.Generator,
		hasher:           opts.Hasher,
		validator:        opts.Validator,
		limiter:          opts.Limiter,
		audit:            opts.Audit,
		logger:           opts.Logger,
		defaultRateLimit: opts.DefaultRateLimitPerHour,
	}
}

// createKeyRequest is the POST /keys body. The quota falls back to the
// server default when omitted; expiry is omitted for non-expiring keys.
type createKeyRequest struct {
	Name             string   `json:"name"`
	Permissions      []string `json:"permissions"`
	RateLimitPerHour *int     `json:"rate_limit_per_hour"`
	ExpiresInDays    *int     `json:"expires_in_days"`
}

// updateKeyRequest is the PATCH /keys/:id body. Nil fields are left
// unchanged.
type updateKeyRequest struct {
	Name             *string  `json:"name"`
	Permissions      []string `json:"permissions"`
	RateLimitPerHour *int     `json:"rate_limit_per_hour"`
	ExpiresInDays    *int     `json:"expires_in_days"`
}

// CreateKey issues a new API key for the authenticated owner. The
// plaintext is returned exactly once; only its digest is stored.
func (h *keyHandler) CreateKey(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User authentication required"})
		return
	}

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required"})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key name is required"})
		return
	}
	if len(name) < minKeyNameLength || len(name) > maxKeyNameLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key name must be between 3 and 50 characters"})
		return
	}
	if err := apikey.ValidatePermissions(req.Permissions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rateLimit := h.defaultRateLimit
	if req.RateLimitPerHour != nil {
		rateLimit = *req.RateLimitPerHour
	}
	if rateLimit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate_limit_per_hour must be positive"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		if *req.ExpiresInDays <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in_days must be positive"})
			return
		}
		t := time.Now().UTC().AddDate(0, 0, *req.ExpiresInDays)
		expiresAt = &t
	}

	plaintext, err := h.generator.Generate()
	if err != nil {
		h.logger.Error("failed to generate api key", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	permissions := apikey.NormalizePermissions(req.Permissions)
	if permissions == nil {
		permissions = []string{}
	}

	record := &store.Record{
		OwnerID:          principal.OwnerID,
		Name:             name,
		KeyHash:          h.hasher.Hash(plaintext),
		KeyPrefix:        h.generator.DisplayPrefix(plaintext),
		Permissions:      permissions,
		IsActive:         true,
		RateLimitPerHour: rateLimit,
		ExpiresAt:        expiresAt,
	}

	ctx := c.Request.Context()
	if err := h.store.Create(ctx, record); err != nil {
		h.storeError(c, err)
		return
	}

	h.audit.LogLifecycle(ctx, audit.ActionKeyCreate, audit.OutcomeSuccess, h.lifecycleSubject(c, principal.OwnerID, record))
	h.logger.Info("api key created",
		observability.String("key_id", record.ID),
		observability.String("owner_id", record.OwnerID),
		observability.String("key_prefix", record.KeyPrefix),
	)

	c.JSON(http.StatusCreated, gin.H{
		"message": "API key created successfully",
		"api_key": plaintext,
		"key":     record,
	})
}

// ListKeys returns the caller's keys, newest first. Inactive records are
// included only when ?include_inactive=true.
func (h *keyHandler) ListKeys(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User authentication required"})
		return
	}

	includeInactive := c.Query("include_inactive") == "true"

	records, err := h.store.ListByOwner(c.Request.Context(), principal.OwnerID, includeInactive)
	if err != nil {
		h.storeError(c, err)
		return
	}
	if records == nil {
		records = []*store.Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"api_keys": records,
		"count":    len(records),
	})
}

// GetKey fetches one owned record. Foreign and unknown ids are
// indistinguishable to the caller.
func (h *keyHandler) GetKey(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User authentication required"})
		return
	}

	record, err := h.ownedRecord(c, c.Param("id"), principal.OwnerID)
	if err != nil {
		h.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// UpdateKey rotates the mutable access fields of an owned key: name,
// permissions, quota and expiry. The cached grant is dropped so the
// gateway sees the change on the next request.
func (h *keyHandler) UpdateKey(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User authentication required"})
		return
	}

	var req updateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required"})
		return
	}
	if req.Name == nil && req.Permissions == nil && req.RateLimitPerHour == nil && req.ExpiresInDays == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No updatable fields provided"})
		return
	}

	update := store.AccessUpdate{Permissions: apikey.NormalizePermissions(req.Permissions)}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "API key name is required"})
			return
		}
		if len(name) < minKeyNameLength || len(name) > maxKeyNameLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "API key name must be between 3 and 50 characters"})
			return
		}
		update.Name = &name
	}
	if req.Permissions != nil {
		if err := apikey.ValidatePermissions(req.Permissions); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.RateLimitPerHour != nil {
		if *req.RateLimitPerHour <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate_limit_per_hour must be positive"})
			return
		}
		update.RateLimitPerHour = req.RateLimitPerHour
	}
	if req.ExpiresInDays != nil {
		if *req.ExpiresInDays <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in_days must be positive"})
			return
		}
		t := time.Now().UTC().AddDate(0, 0, *req.ExpiresInDays)
		update.ExpiresAt = &t
	}

	ctx := c.Request.Context()
	updated, err := h.store.UpdateAccess(ctx, c.Param("id"), principal.OwnerID, update)
	if err != nil {
		h.storeError(c, err)
		return
	}

	h.validator.Invalidate(ctx, updated.KeyHash)
	h.audit.LogLifecycle(ctx, audit.ActionKeyUpdate, audit.OutcomeSuccess, h.lifecycleSubject(c, principal.OwnerID, updated))
	h.logger.Info("api key updated",
		observability.String("key_id", updated.ID),
		observability.String("owner_id", updated.OwnerID),
	)

	c.JSON(http.StatusOK, gin.H{
		"message": "API key updated successfully",
		"key":     updated,
	})
}

// DeactivateKey soft-deletes an owned key. Deactivation is terminal;
// the gateway rejects the key as inactive from the next request on.
func (h *keyHandler) DeactivateKey(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User authentication required"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.ownedRecord(c, c.Param("id"), principal.OwnerID)
	if err != nil {
		h.storeError(c, err)
		return
	}

	if err := h.store.Deactivate(ctx, record.ID, principal.OwnerID); err != nil {
		h.storeError(c, err)
		return
	}

	h.validator.Invalidate(ctx, record.KeyHash)
	h.audit.LogLifecycle(ctx, audit.ActionKeyDeactivate, audit.OutcomeSuccess, h.lifecycleSubject(c, principal.OwnerID, record))
	h.logger.Info("api key deactivated",
		observability.String("key_id", record.ID),
		observability.String("owner_id", record.OwnerID),
	)

	c.JSON(http.StatusOK, gin.H{"message": "API key deactivated successfully"})
}

// KeyUsage reports the live window counters for an owned key.
func (h *keyHandler) KeyUsage(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User authentication required"})
		return
	}

	record, err := h.ownedRecord(c, c.Param("id"), principal.OwnerID)
	if err != nil {
		h.storeError(c, err)
		return
	}

	usage, err := h.limiter.Usage(c.Request.Context(), record.ID, record.RateLimitPerHour)
	if err != nil {
		h.logger.Error("failed to read key usage",
			observability.String("key_id", record.ID),
			observability.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rate limit store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests_this_hour":       usage.RequestsThisHour,
		"rate_limit_per_hour":      usage.Limit,
		"remaining_requests":       usage.Remaining,
		"window_resets_in_seconds": int(usage.WindowResetsIn.Seconds()),
	})
}

// VerifyKey is the gateway self-test endpoint. The API key middleware
// chain has already validated and rate-limited the caller by the time
// this runs, so it only echoes the resolved identity.
func (h *keyHandler) VerifyKey(c *gin.Context) {
	info, ok := middleware.GetKeyInfo(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "API key authentication required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":               true,
		"message":             "API key is valid",
		"key_id":              info.ID,
		"owner_id":            info.OwnerID,
		"name":                info.Name,
		"permissions":         info.Permissions,
		"rate_limit_per_hour": info.RateLimitPerHour,
	})
}

// ownedRecord fetches a record and enforces ownership. Foreign records
// surface as ErrKeyNotFound so callers cannot probe other owners' ids.
func (h *keyHandler) ownedRecord(c *gin.Context, id, ownerID string) (*store.Record, error) {
	record, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, store.ErrKeyNotFound
	}
	return record, nil
}

// storeError maps record store failures onto the management API error
// contract: missing records are 404, an unreachable store is 503 and
// anything else is an opaque 500.
func (h *keyHandler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found or access denied"})
	case errors.Is(err, store.ErrStoreUnavailable):
		h.logger.Error("key store unavailable", observability.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Key store unavailable"})
	default:
		h.logger.Error("key store operation failed", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *keyHandler) lifecycleSubject(c *gin.Context, actor string, record *store.Record) *audit.Subject {
	return &audit.Subject{
		KeyID:      record.ID,
		OwnerID:    record.OwnerID,
		KeyPrefix:  record.KeyPrefix,
		Actor:      actor,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		AuthMethod: "bearer_token",
	}
}
