package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Memory cache defaults.
const (
	DefaultMaxEntries = 10000
	DefaultTTL        = 30 * time.Second

	cleanupInterval = time.Minute
)

// memoryEntry is a single cache entry.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is an in-memory LRU cache with per-entry TTLs.
type Memory struct {
	maxEntries int
	defaultTTL time.Duration

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits   atomic.Int64
	misses atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-memory cache. Non-positive arguments fall back
// to the defaults.
func NewMemory(maxEntries int, defaultTTL time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	c := &Memory{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stopCh:     make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// cleanupLoop periodically drops expired entries.
func (c *Memory) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for _, elem := range c.items {
				entry := elem.Value.(*memoryEntry)
				if now.After(entry.expiresAt) {
					c.removeElement(elem)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// Get implements Cache.
func (c *Memory) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}

	c.eviction.MoveToFront(elem)
	c.hits.Add(1)

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set implements Cache.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = time.Now().Add(ttl)
		c.eviction.MoveToFront(elem)
		return nil
	}

	for c.eviction.Len() >= c.maxEntries {
		if oldest := c.eviction.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	elem := c.eviction.PushFront(&memoryEntry{
		key:       key,
		value:     stored,
		expiresAt: time.Now().Add(ttl),
	})
	c.items[key] = elem

	return nil
}

// Delete implements Cache.
func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// removeElement drops an entry. Callers must hold the lock.
func (c *Memory) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(c.items, entry.key)
	c.eviction.Remove(elem)
}

// Close stops the cleanup loop.
func (c *Memory) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

// Stats returns cache counters.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	size := int64(len(c.items))
	c.mu.Unlock()

	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

// Ensure Memory implements Cache.
var _ Cache = (*Memory)(nil)
