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
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*TTLCache[string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewTTLCache[string](ttl)
	cache.now = clock.Now
	return cache, clock
}

func TestCacheEntry_IsExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", now.Add(time.Hour), false},
		{"past", now.Add(-time.Hour), true},
		{"exactly now", now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry[string]{Value: "v", ExpiresAt: tt.expiresAt}
			if got := entry.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTTLCache_DefaultTTL(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		if c := NewTTLCache[int](ttl); c.ttl != 5*time.Minute {
			t.Errorf("NewTTLCache(%v).ttl = %v, want 5m", ttl, c.ttl)
		}
	}
	if c := NewTTLCache[int](time.Minute); c.ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", c.ttl)
	}
}

func TestTTLCache_GetSet(t *testing.T) {
	cache, clock := newTestCache(time.Minute)

	if _, ok := cache.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Set("a", "alpha")
	if v, ok := cache.Get("a"); !ok || v != "alpha" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	clock.Advance(time.Minute)
	if _, ok := cache.Get("a"); ok {
		t.Error("expected entry to expire after ttl")
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("stats = %+v, want 1 hit 2 misses", stats)
	}
}

func TestTTLCache_Invalidate(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	cache.Set("a", "alpha")
	cache.Set("b", "beta")

	cache.Invalidate("a")
	cache.Invalidate("missing")
	if _, ok := cache.Get("a"); ok {
		t.Error("a should be invalidated")
	}
	if cache.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", cache.Stats().Evictions)
	}

	cache.InvalidateAll()
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after InvalidateAll", cache.Len())
	}
}

func TestTTLCache_CleanupExpired(t *testing.T) {
	cache, clock := newTestCache(time.Minute)
	cache.Set("old", "1")
	clock.Advance(30 * time.Second)
	cache.Set("new", "2")
	clock.Advance(45 * time.Second)

	if removed := cache.CleanupExpired(); removed != 1 {
		t.Fatalf("CleanupExpired() = %d, want 1", removed)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
	if _, ok := cache.Get("new"); !ok {
		t.Error("new entry should survive cleanup")
	}
}

func TestTTLCache_Concurrent(t *testing.T) {
	cache := NewTTLCache[int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%5))
			cache.Set(key, i)
			cache.Get(key)
			if i%7 == 0 {
				cache.Invalidate(key)
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() > 5 {
		t.Errorf("Len() = %d, want at most 5", cache.Len())
	}
}
