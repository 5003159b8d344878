// Package flightcache is a TTL cache with single-flight computation:
// concurrent callers asking for the same missing key share one compute
// instead of each hitting the slow, rate-limited upstream. Failed
// computes are never cached, so the next caller retries.
package flightcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache stores values by string key with per-call TTL. The zero value is
// not usable; create with New.
type Cache[V any] struct {
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry[V]
}

// New creates an empty cache with periodic expired-entry cleanup.
func New[V any]() *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
	}
	go c.cleanup()
	return c
}

// GetOrCompute returns the cached value for key, or runs compute to
// produce it. At most one compute runs per key at a time; concurrent
// callers for the same key all receive that compute's result or error.
//
// The context handed to compute is detached from the caller's
// cancellation: a caller abandoning its request must not cancel a compute
// that other waiters still need. Deadlines belong to the transport inside
// the compute function.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (V, error)) (V, error) {
	c.mu.RLock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.RUnlock()
		return e.value, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent compute may have stored a fresh entry between our
		// read miss and this critical section.
		c.mu.RLock()
		if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
			c.mu.RUnlock()
			return e.value, nil
		}
		c.mu.RUnlock()

		value, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate removes one entry immediately.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix removes every entry whose key starts with prefix.
// Used to clear all scopes for one address in a single call.
func (c *Cache[V]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// InvalidateAll removes every entry immediately.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len returns the number of cached entries (for monitoring).
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup periodically removes expired entries.
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}
