package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of the Store interface,
// used by tests and single-node deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Record
	byHash map[string]string // digest -> record id
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Record),
		byHash: make(map[string]string),
	}
}

// Create inserts a record, assigning an id and timestamps when absent.
func (s *MemoryStore) Create(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[record.KeyHash]; exists {
		return ErrDuplicateKeyHash
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	s.byID[record.ID] = record.Clone()
	s.byHash[record.KeyHash] = record.ID
	return nil
}

// GetByID fetches a record by id.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return record.Clone(), nil
}

// GetByHash fetches a record by its key digest.
func (s *MemoryStore) GetByHash(_ context.Context, keyHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[keyHash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return s.byID[id].Clone(), nil
}

// ListByOwner returns the owner's records, newest first.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string, includeInactive bool) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0)
	for _, record := range s.byID {
		if record.OwnerID != ownerID {
			continue
		}
		if !includeInactive && !record.IsActive {
			continue
		}
		records = append(records, record.Clone())
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

// Deactivate soft-deletes an owned record.
func (s *MemoryStore) Deactivate(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok || record.OwnerID != ownerID {
		return ErrKeyNotFound
	}

	record.IsActive = false
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateAccess rotates the mutable access fields of an owned record.
func (s *MemoryStore) UpdateAccess(_ context.Context, id, ownerID string, update AccessUpdate) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok || record.OwnerID != ownerID {
		return nil, ErrKeyNotFound
	}

	if update.Name != nil {
		record.Name = *update.Name
	}
	if update.Permissions != nil {
		record.Permissions = make([]string, len(update.Permissions))
		copy(record.Permissions, update.Permissions)
	}
	if update.RateLimitPerHour != nil {
		record.RateLimitPerHour = *update.RateLimitPerHour
	}
	if update.ExpiresAt != nil {
		t := *update.ExpiresAt
		record.ExpiresAt = &t
	}
	record.UpdatedAt = time.Now().UTC()

	return record.Clone(), nil
}

// UpdateLastUsed records when the key last authenticated a request.
func (s *MemoryStore) UpdateLastUsed(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}

	t := when.UTC()
	record.LastUsedAt = &t
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

// Count returns the number of records in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
