package middleware

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXRateLimitLimit carries the key's hourly quota.
	HeaderXRateLimitLimit = "X-RateLimit-Limit"

	// HeaderXRateLimitRemaining carries the requests left in the window.
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderXRateLimitReset carries the unix time the window resets.
	HeaderXRateLimitReset = "X-RateLimit-Reset"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// Gin context keys for values stashed by the middleware chain.
const (
	// ContextKeyRequestID is the gin context key for the request ID.
	ContextKeyRequestID = "requestID"

	// ContextKeyAPIKey is the gin context key for the resolved key identity.
	ContextKeyAPIKey = "api_key"

	// ContextKeyPrincipal is the gin context key for the management principal.
	ContextKeyPrincipal = "principal"
)

// unmatchedRoute is the metrics label used when gin has no route pattern
// for the request, keeping label cardinality bounded.
const unmatchedRoute = "unmatched"
