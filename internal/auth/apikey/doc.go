// Package apikey validates presented API keys against the record store.
//
// Validation is ordered: a missing credential, an unknown digest, an
// inactive record and an expired record each map to their own error, and
// an inactive key reports inactive even when it is also past its expiry.
// Store outages surface as store.ErrStoreUnavailable so callers can answer
// 503 instead of blaming the credential.
//
// A successful validation updates the record's last_used_at asynchronously
// and best-effort; the request outcome never waits on it.
//
// Permission checks are the caller's step, after validation:
//
//	info, err := validator.Validate(ctx, presented)
//	if err != nil {
//	    // Map err to a response; see middleware.RequireAPIKey.
//	}
//	if !info.Permissions.Has("patients:read") {
//	    // 403
//	}
//
// Rate limiting likewise runs after validation, keyed by info.ID with
// info.RateLimitPerHour as the quota.
package apikey
