package cache

import (
	"sync"
	"time"
)

// Cache is a small keyed store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	// SetIfAbsent stores value only when key is missing or expired.
	SetIfAbsent(key K, value V, ttl time.Duration) bool
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[K]entry[V]
}

// NewTTLCache returns an in-memory cache. Expired entries are dropped lazily.
func NewTTLCache[K comparable, V any]() Cache[K, V] {
	return newTTLCache[K, V](time.Now)
}

func newTTLCache[K comparable, V any](now func() time.Time) *ttlCache[K, V] {
	return &ttlCache[K, V]{
		now:     now,
		entries: map[K]entry[V]{},
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lookup(key)
	return item.value, ok
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.sweepLocked()
}

func (c *ttlCache[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookup(key); ok {
		return false
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.sweepLocked()
	return true
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ttlCache[K, V]) lookup(key K) (entry[V], bool) {
	item, ok := c.entries[key]
	if !ok {
		return entry[V]{}, false
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.entries, key)
		return entry[V]{}, false
	}
	return item, true
}

// sweepLocked bounds memory when keys are written once and never read again.
func (c *ttlCache[K, V]) sweepLocked() {
	if len(c.entries) < 1024 {
		return
	}
	now := c.now()
	for key, item := range c.entries {
		if !now.Before(item.expiresAt) {
			delete(c.entries, key)
		}
	}
}
