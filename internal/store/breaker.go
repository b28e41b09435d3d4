package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arshealth/keygate/internal/observability"
)

// Breaker defaults.
const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// BreakerConfig holds configuration for the record store circuit breaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs and metrics.
	Name string
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 5.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before probing.
	// Default: 30s.
	OpenTimeout time.Duration
	// Logger is the logger instance.
	Logger observability.Logger
}

// BreakerStore wraps a Store with a circuit breaker. Backend failures and
// an open circuit both surface as ErrStoreUnavailable so callers can tell
// an outage apart from a missing record.
type BreakerStore struct {
	inner  Store
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// NewBreakerStore wraps inner with a circuit breaker.
func NewBreakerStore(inner Store, cfg *BreakerConfig) *BreakerStore {
	if cfg == nil {
		cfg = &BreakerConfig{}
	}

	name := cfg.Name
	if name == "" {
		name = "record-store"
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &BreakerStore{
		inner:  inner,
		logger: logger,
	}

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Domain outcomes are not backend failures.
			return err == nil ||
				errors.Is(err, ErrKeyNotFound) ||
				errors.Is(err, ErrDuplicateKeyHash)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("record store circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			recordStoreBreakerState.Set(float64(breakerStateValue(to)))
		},
	}

	s.cb = gobreaker.NewCircuitBreaker(settings)
	return s
}

// breakerStateValue maps a breaker state to its gauge value
// (0=closed, 1=half-open, 2=open).
func breakerStateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// State returns the current circuit breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

// execute runs fn under the breaker and normalizes failures.
func (s *BreakerStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.cb.Execute(fn)
	if err != nil {
		return nil, s.mapError(err)
	}
	return result, nil
}

// mapError keeps domain errors intact and folds everything else, including
// the open-circuit errors, into ErrStoreUnavailable.
func (s *BreakerStore) mapError(err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrDuplicateKeyHash):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open", ErrStoreUnavailable)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// Create inserts a record through the breaker.
func (s *BreakerStore) Create(ctx context.Context, record *Record) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.Create(ctx, record)
	})
	return err
}

// GetByID fetches a record by id through the breaker.
func (s *BreakerStore) GetByID(ctx context.Context, id string) (*Record, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Record), nil
}

// GetByHash fetches a record by digest through the breaker.
func (s *BreakerStore) GetByHash(ctx context.Context, keyHash string) (*Record, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.GetByHash(ctx, keyHash)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Record), nil
}

// ListByOwner lists owned records through the breaker.
func (s *BreakerStore) ListByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*Record, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.ListByOwner(ctx, ownerID, includeInactive)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*Record), nil
}

// Deactivate soft-deletes a record through the breaker.
func (s *BreakerStore) Deactivate(ctx context.Context, id, ownerID string) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.Deactivate(ctx, id, ownerID)
	})
	return err
}

// UpdateAccess rotates record access fields through the breaker.
func (s *BreakerStore) UpdateAccess(ctx context.Context, id, ownerID string, update AccessUpdate) (*Record, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.UpdateAccess(ctx, id, ownerID, update)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Record), nil
}

// UpdateLastUsed updates last_used_at through the breaker.
func (s *BreakerStore) UpdateLastUsed(ctx context.Context, id string, when time.Time) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.UpdateLastUsed(ctx, id, when)
	})
	return err
}

// Ping checks the inner store, bypassing the breaker so health checks see
// the true backend state.
func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// Close closes the inner store.
func (s *BreakerStore) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}

// Ensure BreakerStore implements Store.
var _ Store = (*BreakerStore)(nil)
