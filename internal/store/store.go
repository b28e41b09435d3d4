package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for the record store.
var (
	// ErrKeyNotFound indicates no record matched the lookup.
	ErrKeyNotFound = errors.New("api key record not found")

	// ErrDuplicateKeyHash indicates a record with the same digest exists.
	ErrDuplicateKeyHash = errors.New("duplicate key hash")

	// ErrStoreUnavailable indicates the backing store cannot be reached.
	// Callers must keep it distinct from ErrKeyNotFound.
	ErrStoreUnavailable = errors.New("key record store unavailable")
)

// AccessUpdate carries the mutable access fields of a record. Nil fields
// are left unchanged.
type AccessUpdate struct {
	Name             *string
	Permissions      []string
	RateLimitPerHour *int
	ExpiresAt        *time.Time
}

// Store is the persistence interface for API key records.
type Store interface {
	// Create inserts a record. The digest must already be populated; a
	// colliding digest returns ErrDuplicateKeyHash.
	Create(ctx context.Context, record *Record) error

	// GetByID fetches a record by its identifier.
	GetByID(ctx context.Context, id string) (*Record, error)

	// GetByHash fetches a record by its key digest. This is the lookup
	// the validation path depends on.
	GetByHash(ctx context.Context, keyHash string) (*Record, error)

	// ListByOwner returns the owner's records ordered by creation time,
	// newest first. Inactive records are included only when requested.
	ListByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*Record, error)

	// Deactivate soft-deletes a record owned by ownerID. Unknown id or a
	// foreign owner returns ErrKeyNotFound.
	Deactivate(ctx context.Context, id, ownerID string) error

	// UpdateAccess rotates the mutable access fields of an owned record
	// and returns the updated record.
	UpdateAccess(ctx context.Context, id, ownerID string, update AccessUpdate) (*Record, error)

	// UpdateLastUsed records when the key last authenticated a request.
	UpdateLastUsed(ctx context.Context, id string, when time.Time) error

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close(ctx context.Context) error
}
