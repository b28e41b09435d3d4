package apikey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arshealth/keygate/internal/cache"
	"github.com/arshealth/keygate/internal/keys"
	"github.com/arshealth/keygate/internal/store"
)

const testPepper = "unit-test-pepper-0123456789abcdef"

func newTestHasher(t *testing.T) *keys.Hasher {
	t.Helper()

	hasher, err := keys.NewHasher(keys.AlgorithmSHA256, testPepper)
	require.NoError(t, err)
	return hasher
}

// seedRecord inserts a record for the given plaintext key and returns it.
func seedRecord(t *testing.T, st *store.MemoryStore, hasher *keys.Hasher, plaintext string, mutate func(*store.Record)) *store.Record {
	t.Helper()

	record := &store.Record{
		OwnerID:          "owner-1",
		Name:             "test key",
		KeyHash:          hasher.Hash(plaintext),
		KeyPrefix:        "ars_test",
		Permissions:      []string{"patients:read", "encounters:read"},
		IsActive:         true,
		RateLimitPerHour: 1000,
	}
	if mutate != nil {
		mutate(record)
	}
	require.NoError(t, st.Create(context.Background(), record))
	return record
}

// faultyStore returns a fixed error from every read.
type faultyStore struct {
	*store.MemoryStore
	err error
}

func (f *faultyStore) GetByHash(context.Context, string) (*store.Record, error) {
	return nil, f.err
}

func TestNewValidator(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)

	tests := []struct {
		name    string
		hasher  *keys.Hasher
		store   store.Store
		wantErr bool
	}{
		{
			name:    "nil hasher",
			hasher:  nil,
			store:   store.NewMemoryStore(),
			wantErr: true,
		},
		{
			name:    "nil store",
			hasher:  hasher,
			store:   nil,
			wantErr: true,
		},
		{
			name:    "valid",
			hasher:  hasher,
			store:   store.NewMemoryStore(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v, err := NewValidator(tt.hasher, tt.store)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, v)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, v)
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)
	st := store.NewMemoryStore()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	seedRecord(t, st, hasher, "ars_valid_key", nil)
	seedRecord(t, st, hasher, "ars_inactive_key", func(r *store.Record) {
		r.IsActive = false
	})
	seedRecord(t, st, hasher, "ars_expired_key", func(r *store.Record) {
		r.ExpiresAt = &past
	})
	seedRecord(t, st, hasher, "ars_inactive_expired_key", func(r *store.Record) {
		r.IsActive = false
		r.ExpiresAt = &past
	})
	seedRecord(t, st, hasher, "ars_future_expiry_key", func(r *store.Record) {
		r.ExpiresAt = &future
	})

	v, err := NewValidator(hasher, st, WithValidatorMetrics(NewMetrics("test")))
	require.NoError(t, err)

	tests := []struct {
		name      string
		presented string
		wantErr   error
	}{
		{
			name:      "empty key",
			presented: "",
			wantErr:   ErrMissingCredential,
		},
		{
			name:      "whitespace key",
			presented: "   ",
			wantErr:   ErrMissingCredential,
		},
		{
			name:      "unknown key",
			presented: "ars_never_issued",
			wantErr:   ErrCredentialNotFound,
		},
		{
			name:      "inactive key",
			presented: "ars_inactive_key",
			wantErr:   ErrCredentialInactive,
		},
		{
			name:      "expired key",
			presented: "ars_expired_key",
			wantErr:   ErrCredentialExpired,
		},
		{
			name:      "inactive wins over expired",
			presented: "ars_inactive_expired_key",
			wantErr:   ErrCredentialInactive,
		},
		{
			name:      "valid key",
			presented: "ars_valid_key",
		},
		{
			name:      "valid key with future expiry",
			presented: "ars_future_expiry_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info, err := v.Validate(context.Background(), tt.presented)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, info)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, info)
			assert.Equal(t, "owner-1", info.OwnerID)
			assert.Equal(t, 1000, info.RateLimitPerHour)
			assert.True(t, info.Permissions.Has("patients:read"))
		})
	}
}

func TestValidator_Validate_StoreError(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)

	t.Run("plain transport error is wrapped as unavailable", func(t *testing.T) {
		t.Parallel()

		st := &faultyStore{
			MemoryStore: store.NewMemoryStore(),
			err:         errors.New("connection refused"),
		}
		v, err := NewValidator(hasher, st, WithValidatorMetrics(NewMetrics("test")))
		require.NoError(t, err)

		info, err := v.Validate(context.Background(), "ars_any_key")
		require.Error(t, err)
		assert.Nil(t, info)
		assert.ErrorIs(t, err, store.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("already wrapped error is not double wrapped", func(t *testing.T) {
		t.Parallel()

		st := &faultyStore{
			MemoryStore: store.NewMemoryStore(),
			err:         store.ErrStoreUnavailable,
		}
		v, err := NewValidator(hasher, st, WithValidatorMetrics(NewMetrics("test")))
		require.NoError(t, err)

		_, err = v.Validate(context.Background(), "ars_any_key")
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	})
}

func TestValidator_Validate_UpdatesLastUsed(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)
	st := store.NewMemoryStore()
	record := seedRecord(t, st, hasher, "ars_tracked_key", nil)

	v, err := NewValidator(hasher, st, WithValidatorMetrics(NewMetrics("test")))
	require.NoError(t, err)

	info, err := v.Validate(context.Background(), "ars_tracked_key")
	require.NoError(t, err)
	assert.Nil(t, info.LastUsedAt)

	require.Eventually(t, func() bool {
		stored, err := st.GetByID(context.Background(), record.ID)
		return err == nil && stored.LastUsedAt != nil
	}, time.Second, 10*time.Millisecond, "last_used_at should be updated asynchronously")
}

func TestValidator_Validate_LastUsedFailureDoesNotAffectResult(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)
	st := store.NewMemoryStore()
	seedRecord(t, st, hasher, "ars_fleeting_key", nil)

	v, err := NewValidator(hasher, st,
		WithValidatorMetrics(NewMetrics("test")),
		WithLastUsedTimeout(time.Millisecond),
	)
	require.NoError(t, err)

	// The write may race the short timeout; the validation result must
	// succeed either way.
	info, err := v.Validate(context.Background(), "ars_fleeting_key")
	require.NoError(t, err)
	assert.NotNil(t, info)
}

func TestValidator_CacheHitAndInvalidate(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)
	st := store.NewMemoryStore()
	record := seedRecord(t, st, hasher, "ars_cached_key", nil)
	digest := hasher.Hash("ars_cached_key")

	c := cache.NewMemory(100, time.Minute)
	defer c.Close()

	v, err := NewValidator(hasher, st,
		WithValidatorMetrics(NewMetrics("test")),
		WithRecordCache(c, time.Minute),
	)
	require.NoError(t, err)

	// First validation populates the cache from the store.
	_, err = v.Validate(context.Background(), "ars_cached_key")
	require.NoError(t, err)

	// Deactivate behind the cache's back; the cached copy still wins.
	require.NoError(t, st.Deactivate(context.Background(), record.ID, record.OwnerID))

	info, err := v.Validate(context.Background(), "ars_cached_key")
	require.NoError(t, err)
	assert.Equal(t, record.ID, info.ID)

	// After invalidation the store is consulted again.
	v.Invalidate(context.Background(), digest)

	_, err = v.Validate(context.Background(), "ars_cached_key")
	require.ErrorIs(t, err, ErrCredentialInactive)
}

func TestValidator_CacheCorruptEntry(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)
	st := store.NewMemoryStore()
	seedRecord(t, st, hasher, "ars_resilient_key", nil)
	digest := hasher.Hash("ars_resilient_key")

	c := cache.NewMemory(100, time.Minute)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), digest, []byte("{not json"), time.Minute))

	v, err := NewValidator(hasher, st,
		WithValidatorMetrics(NewMetrics("test")),
		WithRecordCache(c, time.Minute),
	)
	require.NoError(t, err)

	info, err := v.Validate(context.Background(), "ars_resilient_key")
	require.NoError(t, err)
	assert.NotNil(t, info)
}

func TestValidator_CachedRecordStillChecksExpiry(t *testing.T) {
	t.Parallel()

	hasher := newTestHasher(t)
	st := store.NewMemoryStore()

	soon := time.Now().UTC().Add(150 * time.Millisecond)
	seedRecord(t, st, hasher, "ars_short_lived_key", func(r *store.Record) {
		r.ExpiresAt = &soon
	})

	c := cache.NewMemory(100, time.Minute)
	defer c.Close()

	v, err := NewValidator(hasher, st,
		WithValidatorMetrics(NewMetrics("test")),
		WithRecordCache(c, time.Minute),
	)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "ars_short_lived_key")
	require.NoError(t, err)

	// Expiry applies to cached copies too.
	require.Eventually(t, func() bool {
		_, err := v.Validate(context.Background(), "ars_short_lived_key")
		return errors.Is(err, ErrCredentialExpired)
	}, time.Second, 20*time.Millisecond)
}
