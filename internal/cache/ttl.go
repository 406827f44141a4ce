// Package cache provides the in-process TTL cache and the optional Redis
// second level used for search results and prompt assembly.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe map whose entries expire after a fixed duration
type TTL[V any] struct {
	mu    sync.Mutex
	name  string
	ttl   time.Duration
	items map[string]entry[V]
	now   func() time.Time
}

// NewTTL creates a TTL cache. name labels its metrics.
func NewTTL[V any](name string, ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		name:  name,
		ttl:   ttl,
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
}

// Name returns the cache label
func (c *TTL[V]) Name() string {
	return c.name
}

// TTL returns the entry lifetime
func (c *TTL[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns a live entry. Expired entries are removed on access.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value for the cache TTL
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes key
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Prune drops every expired entry and returns how many were removed
func (c *TTL[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, including expired ones not yet pruned
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
