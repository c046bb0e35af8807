// Package cache provides an in-memory response cache for the discovery
// surface. Plugin manifests are fixed once a plugin registers, so the plugin
// list, manifest and capability payloads can be served from memory and aged
// out by TTL without any invalidation protocol.
package cache

import (
	"sync"
	"time"
)

// entry holds a cached value, its expiry, and a recency sequence number.
type entry struct {
	value     []byte
	expiresAt time.Time
	seq       uint64
}

// LRUCache is a thread-safe byte cache with TTL expiry and least-recently-used
// eviction. Get refreshes an entry's recency; expired entries are dropped
// lazily on Get.
type LRUCache struct {
	mu      sync.Mutex
	items   map[string]*entry
	maxSize int
	ttl     time.Duration
	seq     uint64
}

// NewLRUCache creates a cache holding at most maxSize entries, each valid for
// ttl. maxSize below 1 is raised to 1; a non-positive ttl falls back to one
// minute.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LRUCache{
		items:   make(map[string]*entry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached value for key, or (nil, false) when the key is
// missing or expired.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.items, key)
		return nil, false
	}

	c.seq++
	e.seq = c.seq
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when the
// cache is full. Storing an existing key replaces it in place.
func (c *LRUCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(c.ttl)
		e.seq = c.seq
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictLRU()
	}
	c.items[key] = &entry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
		seq:       c.seq,
	}
}

// Len returns the number of stored entries, counting expired ones that have
// not yet been dropped.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictLRU removes the entry with the lowest sequence number. Caller holds
// c.mu.
func (c *LRUCache) evictLRU() {
	var victim string
	var lowest uint64
	first := true
	for k, e := range c.items {
		if first || e.seq < lowest {
			victim = k
			lowest = e.seq
			first = false
		}
	}
	if !first {
		delete(c.items, victim)
	}
}
