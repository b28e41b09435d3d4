package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(ownerID, name, hash string) *Record {
	return &Record{
		OwnerID:          ownerID,
		Name:             name,
		KeyHash:          hash,
		KeyPrefix:        "ars_abc123",
		Permissions:      []string{"patients:read"},
		IsActive:         true,
		RateLimitPerHour: 1000,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	record := newTestRecord("owner-1", "svc-a", "hash-a")
	require.NoError(t, s.Create(ctx, record))

	assert.NotEmpty(t, record.ID, "create assigns an id")
	assert.False(t, record.CreatedAt.IsZero())
	assert.False(t, record.UpdatedAt.IsZero())

	byID, err := s.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Name, byID.Name)

	byHash, err := s.GetByHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, record.ID, byHash.ID)

	assert.Equal(t, 1, s.Count())
}

func TestMemoryStore_DuplicateHash(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newTestRecord("owner-1", "svc-a", "same-hash")))

	err := s.Create(ctx, newTestRecord("owner-2", "svc-b", "same-hash"))
	assert.ErrorIs(t, err, ErrDuplicateKeyHash)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = s.GetByHash(ctx, "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_ListByOwner(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	oldest := newTestRecord("owner-1", "oldest", "h1")
	oldest.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.Create(ctx, oldest))

	inactive := newTestRecord("owner-1", "inactive", "h2")
	inactive.IsActive = false
	inactive.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, inactive))

	newest := newTestRecord("owner-1", "newest", "h3")
	require.NoError(t, s.Create(ctx, newest))

	require.NoError(t, s.Create(ctx, newTestRecord("owner-2", "other", "h4")))

	t.Run("active only, newest first", func(t *testing.T) {
		records, err := s.ListByOwner(ctx, "owner-1", false)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "newest", records[0].Name)
		assert.Equal(t, "oldest", records[1].Name)
	})

	t.Run("include inactive", func(t *testing.T) {
		records, err := s.ListByOwner(ctx, "owner-1", true)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("unknown owner is empty", func(t *testing.T) {
		records, err := s.ListByOwner(ctx, "owner-999", true)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestMemoryStore_Deactivate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	record := newTestRecord("owner-1", "svc-a", "h1")
	require.NoError(t, s.Create(ctx, record))
	createdUpdatedAt := record.UpdatedAt

	t.Run("foreign owner", func(t *testing.T) {
		err := s.Deactivate(ctx, record.ID, "owner-2")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := s.Deactivate(ctx, "missing", "owner-1")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("owned record", func(t *testing.T) {
		require.NoError(t, s.Deactivate(ctx, record.ID, "owner-1"))

		got, err := s.GetByID(ctx, record.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.True(t, got.UpdatedAt.After(createdUpdatedAt) || got.UpdatedAt.Equal(createdUpdatedAt))

		// Deactivation is soft: the record still resolves by digest.
		byHash, err := s.GetByHash(ctx, "h1")
		require.NoError(t, err)
		assert.False(t, byHash.IsActive)
	})
}

func TestMemoryStore_UpdateAccess(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	record := newTestRecord("owner-1", "svc-a", "h1")
	require.NoError(t, s.Create(ctx, record))

	t.Run("rotates provided fields only", func(t *testing.T) {
		quota := 250
		updated, err := s.UpdateAccess(ctx, record.ID, "owner-1", AccessUpdate{
			Permissions:      []string{"patients:read", "patients:write"},
			RateLimitPerHour: &quota,
		})
		require.NoError(t, err)

		assert.Equal(t, "svc-a", updated.Name, "name untouched")
		assert.Equal(t, []string{"patients:read", "patients:write"}, updated.Permissions)
		assert.Equal(t, 250, updated.RateLimitPerHour)
	})

	t.Run("foreign owner", func(t *testing.T) {
		_, err := s.UpdateAccess(ctx, record.ID, "owner-2", AccessUpdate{})
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestMemoryStore_UpdateLastUsed(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	record := newTestRecord("owner-1", "svc-a", "h1")
	require.NoError(t, s.Create(ctx, record))

	when := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpdateLastUsed(ctx, record.ID, when))

	got, err := s.GetByID(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, when, *got.LastUsedAt)

	assert.ErrorIs(t, s.UpdateLastUsed(ctx, "missing", when), ErrKeyNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	record := newTestRecord("owner-1", "svc-a", "h1")
	require.NoError(t, s.Create(ctx, record))

	got, err := s.GetByID(ctx, record.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	got.Permissions[0] = "admin:write"

	again, err := s.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "svc-a", again.Name)
	assert.Equal(t, "patients:read", again.Permissions[0])
}

func TestMemoryStore_PingAndClose(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close(context.Background()))
}
