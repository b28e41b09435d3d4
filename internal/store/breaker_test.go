package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyStore wraps a MemoryStore and fails lookups with the injected error.
type faultyStore struct {
	*MemoryStore
	err error
}

func (s *faultyStore) GetByHash(ctx context.Context, keyHash string) (*Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.MemoryStore.GetByHash(ctx, keyHash)
}

func (s *faultyStore) Ping(context.Context) error {
	return s.err
}

func TestBreakerStore_PassThrough(t *testing.T) {
	t.Parallel()

	inner := NewMemoryStore()
	s := NewBreakerStore(inner, &BreakerConfig{Name: "test"})
	ctx := context.Background()

	record := newTestRecord("owner-1", "svc-a", "h1")
	require.NoError(t, s.Create(ctx, record))

	got, err := s.GetByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	records, err := s.ListByOwner(ctx, "owner-1", false)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	quota := 10
	updated, err := s.UpdateAccess(ctx, record.ID, "owner-1", AccessUpdate{RateLimitPerHour: &quota})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.RateLimitPerHour)

	require.NoError(t, s.UpdateLastUsed(ctx, record.ID, time.Now()))
	require.NoError(t, s.Deactivate(ctx, record.ID, "owner-1"))
	assert.Equal(t, gobreaker.StateClosed, s.State())
}

func TestBreakerStore_DomainErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	s := NewBreakerStore(NewMemoryStore(), &BreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.GetByHash(ctx, "missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
	}

	assert.Equal(t, gobreaker.StateClosed, s.State())
}

func TestBreakerStore_OpensOnConsecutiveFailures(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("connection refused")
	inner := &faultyStore{MemoryStore: NewMemoryStore(), err: backendErr}
	s := NewBreakerStore(inner, &BreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.GetByHash(ctx, "h1")
		require.ErrorIs(t, err, ErrStoreUnavailable)
		require.ErrorIs(t, err, backendErr, "original cause stays in the chain")
	}

	assert.Equal(t, gobreaker.StateOpen, s.State())

	// With the circuit open the inner store is no longer consulted.
	inner.err = nil
	_, err := s.GetByHash(ctx, "h1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
}

func TestBreakerStore_PingBypassesBreaker(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("connection refused")
	inner := &faultyStore{MemoryStore: NewMemoryStore(), err: backendErr}
	s := NewBreakerStore(inner, &BreakerConfig{Name: "test", FailureThreshold: 1})
	ctx := context.Background()

	_, _ = s.GetByHash(ctx, "h1")
	require.Equal(t, gobreaker.StateOpen, s.State())

	// Health checks must observe the real backend, not the breaker.
	assert.ErrorIs(t, s.Ping(ctx), backendErr)

	inner.err = nil
	assert.NoError(t, s.Ping(ctx))
}

func TestBreakerStore_Defaults(t *testing.T) {
	t.Parallel()

	s := NewBreakerStore(NewMemoryStore(), nil)
	assert.Equal(t, gobreaker.StateClosed, s.State())
	assert.NoError(t, s.Close(context.Background()))
}
