// Package cache provides a bounded TTL cache shared by the pipeline.
package cache

import (
	"sync"
	"time"
)

// entry wraps a cached value with its expiry deadline.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded key/value cache with lazy expiry.
//
// Expired entries are removed on Get; there is no background sweep.
// When the cache is at capacity, Set evicts the oldest inserted entry.
// Insertion-order eviction is deliberate: repeat-query locality dominates
// here and a cheap bound matters more than an optimal hit rate.
type TTLCache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[V]
	order      []string // insertion order
	ttl        time.Duration
	maxEntries int

	hits   int64
	misses int64

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a TTLCache. ttl <= 0 means entries never expire.
func New[V any](ttl time.Duration, maxEntries int) *TTLCache[V] {
	if maxEntries <= 0 {
		maxEntries = 100
	}

	return &TTLCache[V]{
		entries:    make(map[string]entry[V]),
		order:      make([]string, 0, maxEntries),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the value for key. An entry past its deadline is treated
// as absent and removed.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	if c.ttl > 0 && c.now().After(e.expiresAt) {
		c.removeLocked(key)
		c.misses++
		return zero, false
	}

	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when at capacity.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.order = append(c.order, key)
}

// removeLocked deletes key from the map and the order slice. Caller holds the lock.
func (c *TTLCache[V]) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Len returns the current number of entries, including not-yet-swept expired ones.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
	c.order = c.order[:0]
}

// Stats holds cache statistics.
type Stats struct {
	Size    int   `json:"size"`
	MaxSize int   `json:"max_size"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns a snapshot of cache statistics.
func (c *TTLCache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Size:    len(c.entries),
		MaxSize: c.maxEntries,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
