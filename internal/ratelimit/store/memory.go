package store

import (
	"context"
	"sync"
	"time"
)

// defaultJanitorInterval is how often expired counters are swept.
const defaultJanitorInterval = time.Minute

// memoryCounter is a single window counter.
type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-memory counter store for tests and single-node
// deployments. Expired counters are dropped lazily on access and swept by
// a background janitor.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates an in-memory counter store. A non-positive
// janitorInterval falls back to the default.
func NewMemoryStore(janitorInterval time.Duration) *MemoryStore {
	if janitorInterval <= 0 {
		janitorInterval = defaultJanitorInterval
	}

	s := &MemoryStore{
		counters: make(map[string]*memoryCounter),
		stopCh:   make(chan struct{}),
	}

	go s.janitor(janitorInterval)

	return s
}

// janitor periodically sweeps expired counters.
func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, counter := range s.counters {
				if now.After(counter.expiresAt) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// IncrementWithTTL implements Store.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, delta int64, ttl time.Duration) (int64, time.Duration, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || now.After(counter.expiresAt) {
		counter = &memoryCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = counter
	}
	counter.count += delta

	return counter.count, counter.expiresAt.Sub(now), nil
}

// Peek implements Store.
func (s *MemoryStore) Peek(_ context.Context, key string) (int64, time.Duration, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || now.After(counter.expiresAt) {
		return 0, 0, nil
	}

	return counter.count, counter.expiresAt.Sub(now), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Len returns the number of live counters, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
