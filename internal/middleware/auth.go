package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arshealth/keygate/internal/audit"
	"github.com/arshealth/keygate/internal/auth/apikey"
	"github.com/arshealth/keygate/internal/observability"
	"github.com/arshealth/keygate/internal/ratelimit"
	"github.com/arshealth/keygate/internal/store"
)

// Gateway authentication outcome labels.
const (
	outcomeSuccess          = "success"
	outcomeMissing          = "missing_api_key"
	outcomeInvalid          = "invalid_api_key"
	outcomeInactive         = "inactive_api_key"
	outcomeExpired          = "expired_api_key"
	outcomeStoreUnavailable = "store_unavailable"
	outcomeRateLimited      = "rate_limited"
)

// APIKeyAuthConfig holds the collaborators for the API key gateway chain.
type APIKeyAuthConfig struct {
	// Validator resolves presented keys to their stored identity.
	Validator apikey.Validator

	// Extractor pulls the presented key from the request. Defaults to the
	// X-API-Key header.
	Extractor apikey.Extractor

	// Limiter enforces each key's hourly quota. Defaults to a no-op
	// limiter when quota enforcement is disabled.
	Limiter ratelimit.Limiter

	// Audit receives authentication and rate-limit decisions.
	Audit audit.Logger

	Logger observability.Logger
}

// RequireAPIKey returns the gateway middleware: extract the presented key,
// validate it, then count it against the key's hourly quota. The resolved
// identity lands in both the gin context and the request context.
//
// Failure mapping: missing, unknown, inactive and expired credentials are
// rejected 401 with distinct reasons; an exhausted quota is 429 with
// Retry-After; an unreachable backing store is 503, never 401.
func RequireAPIKey(config APIKeyAuthConfig) gin.HandlerFunc {
	if config.Extractor == nil {
		config.Extractor = apikey.NewHeaderExtractor("", "")
	}
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewNoopLimiter()
	}
	if config.Audit == nil {
		config.Audit = audit.NewNoopLogger()
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// Extraction failures surface through Validate as a missing
		// credential so every outcome flows through one mapping.
		presented, err := config.Extractor.Extract(c.Request)
		if err != nil {
			presented = ""
		}

		info, err := config.Validator.Validate(ctx, presented)
		if err != nil {
			abortAuthFailure(c, config, err)
			return
		}

		result, err := config.Limiter.Allow(ctx, info.ID, info.RateLimitPerHour)
		if err != nil {
			config.Logger.Error("rate limit check failed",
				observability.String("key_id", info.ID),
				observability.Error(err),
			)
			GetMiddlewareMetrics().RecordAuthOutcome(outcomeStoreUnavailable)
			abortServiceUnavailable(c)
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			GetMiddlewareMetrics().RecordAuthOutcome(outcomeRateLimited)
			GetMiddlewareMetrics().RecordKeyLimitRejected()
			config.Audit.LogRateLimit(ctx, auditSubject(c, info), result.Limit, result.RetryAfter)

			retrySeconds := int(result.RetryAfter.Seconds())
			if retrySeconds < 1 {
				retrySeconds = 1
			}
			c.Header(HeaderRetryAfter, strconv.Itoa(retrySeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     fmt.Sprintf("Rate limit exceeded. Maximum %d requests per hour.", result.Limit),
				"retry_after": retrySeconds,
			})
			return
		}

		GetMiddlewareMetrics().RecordAuthOutcome(outcomeSuccess)
		GetMiddlewareMetrics().RecordKeyLimitAllowed()
		config.Audit.LogAuthentication(ctx, audit.OutcomeSuccess, "valid", auditSubject(c, info))

		c.Set(ContextKeyAPIKey, info)
		c.Request = c.Request.WithContext(apikey.ContextWithKeyInfo(ctx, info))

		c.Next()
	}
}

// GetKeyInfo returns the resolved key identity from the gin context.
func GetKeyInfo(c *gin.Context) (*apikey.KeyInfo, bool) {
	v, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	info, ok := v.(*apikey.KeyInfo)
	if !ok || info == nil {
		return nil, false
	}
	return info, true
}

// abortAuthFailure maps a validation error onto its HTTP response, metric
// and audit event.
func abortAuthFailure(c *gin.Context, config APIKeyAuthConfig, err error) {
	ctx := c.Request.Context()
	subject := auditSubject(c, nil)

	var outcome, message string
	switch {
	case errors.Is(err, apikey.ErrMissingCredential):
		outcome, message = outcomeMissing, "API key required"
	case errors.Is(err, apikey.ErrCredentialNotFound):
		outcome, message = outcomeInvalid, "Invalid API key"
	case errors.Is(err, apikey.ErrCredentialInactive):
		outcome, message = outcomeInactive, "API key is inactive"
	case errors.Is(err, apikey.ErrCredentialExpired):
		outcome, message = outcomeExpired, "API key has expired"
	default:
		// Validate wraps every backend fault in store.ErrStoreUnavailable;
		// an unreachable store is a server fault, not a credential decision.
		msg := "api key validation unavailable"
		if !errors.Is(err, store.ErrStoreUnavailable) {
			msg = "unexpected validation error"
		}
		config.Logger.Error(msg, observability.Error(err))
		GetMiddlewareMetrics().RecordAuthOutcome(outcomeStoreUnavailable)
		config.Audit.LogAuthentication(ctx, audit.OutcomeFailure, outcomeStoreUnavailable, subject)
		abortServiceUnavailable(c)
		return
	}

	GetMiddlewareMetrics().RecordAuthOutcome(outcome)
	config.Audit.LogAuthentication(ctx, audit.OutcomeDenied, outcome, subject)

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"reason":  outcome,
		"message": message,
	})
}

func abortServiceUnavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error":   "service_unavailable",
		"message": "authentication backend unavailable",
	})
}

// setRateLimitHeaders advertises the key's quota window on the response.
func setRateLimitHeaders(c *gin.Context, result *ratelimit.Result) {
	c.Header(HeaderXRateLimitLimit, strconv.Itoa(result.Limit))
	c.Header(HeaderXRateLimitRemaining, strconv.Itoa(result.Remaining))
	c.Header(HeaderXRateLimitReset, strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))
}

// auditSubject builds the audit subject for the current request. The key
// fields stay empty for failed authentications; plaintext never goes in.
func auditSubject(c *gin.Context, info *apikey.KeyInfo) *audit.Subject {
	subject := &audit.Subject{
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		AuthMethod: "api_key",
	}
	if info != nil {
		subject.KeyID = info.ID
		subject.OwnerID = info.OwnerID
		subject.KeyPrefix = info.KeyPrefix
	}
	return subject
}
