package cache

import (
	"sync"
	"time"
)

// Entry holds a cached value with expiration
type Entry[V any] struct {
	Value      V
	Expiration time.Time
}

// Cache is a thread-safe in-memory cache with a fixed TTL per instance.
// It is constructed once per process and injected where needed.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]Entry[V]
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, mostly for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

// New creates a new cache whose entries live for ttl.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		items: make(map[string]Entry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from cache if it exists and hasn't expired. An
// expired entry is removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()
	if !exists {
		return zero, false
	}

	if !c.now().Before(entry.Expiration) {
		c.mu.Lock()
		// a concurrent Set may have refreshed it
		if cur, ok := c.items[key]; ok && !c.now().Before(cur.Expiration) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	return entry.Value, true
}

// Set stores a value, replacing any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Entry[V]{
		Value:      value,
		Expiration: c.now().Add(c.ttl),
	}
}

// Delete removes a key from cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Clear removes all entries from cache
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]Entry[V])
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.items {
		if !now.Before(entry.Expiration) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
