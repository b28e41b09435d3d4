// Package store persists API key records and exposes the digest lookup
// used by the validation path.
package store

import (
	"time"
)

// Record is a stored API key. The plaintext secret is never persisted;
// KeyHash holds its peppered digest and is excluded from JSON output.
type Record struct {
	ID               string     `bson:"_id" json:"id"`
	OwnerID          string     `bson:"owner_id" json:"owner_id"`
	Name             string     `bson:"name" json:"name"`
	KeyHash          string     `bson:"key_hash" json:"-"`
	KeyPrefix        string     `bson:"key_prefix" json:"key_prefix"`
	Permissions      []string   `bson:"permissions" json:"permissions"`
	IsActive         bool       `bson:"is_active" json:"is_active"`
	RateLimitPerHour int        `bson:"rate_limit_per_hour" json:"rate_limit_per_hour"`
	LastUsedAt       *time.Time `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	ExpiresAt        *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
}

// IsExpired returns true if the record carries an expiry in the past.
func (r *Record) IsExpired() bool {
	if r.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*r.ExpiresAt)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	out := *r
	if r.Permissions != nil {
		out.Permissions = make([]string, len(r.Permissions))
		copy(out.Permissions, r.Permissions)
	}
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		out.LastUsedAt = &t
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}
