// Package cache provides a bounded in-memory cache with per-entry expiry.
package cache

import (
	"sync"
	"time"
)

// DefaultMaxEntries is used when New is given a non-positive size.
const DefaultMaxEntries = 100

type entry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
	hits      int
}

// Cache maps string keys to values that expire after a fixed TTL.
// When full, expired entries are dropped first, then the oldest one.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*cacheOptions)

type cacheOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *cacheOptions) { o.now = now }
}

// New creates a cache holding at most maxSize entries for ttl each.
func New[V any](maxSize int, ttl time.Duration, opts ...Option) *Cache[V] {
	o := cacheOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     o.now,
	}
}

// Get returns the value for key if it is present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	e.hits++
	return e.value, true
}

// Set stores value under key, evicting if the cache is full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
		if len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
	}

	now := c.now()
	c.entries[key] = &entry[V]{
		value:     value,
		expiresAt: now.Add(c.ttl),
		createdAt: now,
	}
}

// Delete removes key from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries from the cache
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats summarizes the cache contents.
type Stats struct {
	Size      int `json:"size"`
	MaxSize   int `json:"max_size"`
	TotalHits int `json:"total_hits"`
	Expired   int `json:"expired_count"`
}

// Stats returns cache statistics
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Size: len(c.entries), MaxSize: c.maxSize}
	now := c.now()
	for _, e := range c.entries {
		s.TotalHits += e.hits
		if now.After(e.expiresAt) {
			s.Expired++
		}
	}
	return s
}

// evictExpiredLocked removes all expired entries (must hold lock)
func (c *Cache[V]) evictExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOldestLocked removes the entry created first (must hold lock)
func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true

	for key, e := range c.entries {
		if first || e.createdAt.Before(oldest) {
			oldestKey = key
			oldest = e.createdAt
			first = false
		}
	}

	if !first {
		delete(c.entries, oldestKey)
	}
}
