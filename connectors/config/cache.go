// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"sync"
	"time"
)

// CacheEntry is a cached value with its expiry
type CacheEntry[T any] struct {
	Value      T
	ExpiresAt  time.Time
	LastUpdate time.Time
}

// IsExpired reports whether the entry has expired at now
func (e *CacheEntry[T]) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats counts cache lookups
type CacheStats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	LastEviction time.Time
}

// TTLCache is a concurrency-safe keyed cache whose entries expire after a
// fixed TTL.
type TTLCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry[T]
	ttl     time.Duration
	now     func() time.Time
	stats   CacheStats
}

// NewTTLCache creates a cache. A non-positive ttl defaults to five minutes.
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TTLCache[T]{
		entries: make(map[string]*CacheEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the live value for key
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.IsExpired(c.now()) {
		c.stats.Misses++
		var zero T
		return zero, false
	}
	c.stats.Hits++
	return entry.Value, true
}

// Set stores value under key for one TTL
func (c *TTLCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &CacheEntry[T]{Value: value, ExpiresAt: now.Add(c.ttl), LastUpdate: now}
}

// Invalidate drops key
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.evicted()
	}
}

// InvalidateAll drops every entry
func (c *TTLCache[T]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]*CacheEntry[T])
		c.evicted()
	}
}

// CleanupExpired removes expired entries and returns how many were removed
func (c *TTLCache[T]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.evicted()
	}
	return removed
}

// Stats returns a copy of the lookup counters
func (c *TTLCache[T]) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Len returns the number of stored entries, expired or not
func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TTLCache[T]) evicted() {
	c.stats.Evictions++
	c.stats.LastEviction = c.now()
}
