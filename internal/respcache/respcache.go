// Package respcache is a size- and age-bounded cache for rendered responses.
package respcache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache maps keys to values with LRU eviction and a TTL. A cache with
// size 0 stores nothing.
type Cache[V any] struct {
	mu   sync.RWMutex
	lru  *expirable.LRU[string, V]
	size int
	ttl  time.Duration
}

// New creates a cache holding at most size entries for at most ttl each.
// ttl 0 means entries never expire.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	c := &Cache[V]{}
	c.Resize(size, ttl)
	return c
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lru == nil {
		var zero V
		return zero, false
	}
	return c.lru.Get(key)
}

// Set stores value under key.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lru != nil {
		c.lru.Add(key, value)
	}
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lru != nil {
		c.lru.Purge()
	}
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Resize replaces the cache with an empty one using the new bounds. It is
// a no-op when the bounds are unchanged.
func (c *Cache[V]) Resize(size int, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size < 0 {
		size = 0
	}
	if ttl < 0 {
		ttl = 0
	}
	if c.size == size && c.ttl == ttl && (c.lru != nil || size == 0) {
		return
	}
	c.size, c.ttl = size, ttl
	if size == 0 {
		c.lru = nil
		return
	}
	c.lru = expirable.NewLRU[string, V](size, nil, ttl)
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}
