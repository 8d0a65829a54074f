package resolver

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a bounded, TTL'd cache of resolution results. Every entry is
// stamped with the generation it was computed under; InvalidateAll bumps
// the generation before clearing, so a concurrent lookup either
// completes against the old generation or misses and recomputes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	gen     atomic.Uint64
}

type cacheEntry struct {
	result    Result
	gen       uint64
	expiresAt time.Time
}

func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *Cache) Get(key string) (Result, bool) {
	gen := c.gen.Load()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.gen != gen || time.Now().After(entry.expiresAt) {
		return Result{}, false
	}
	return entry.result, true
}

func (c *Cache) Put(key string, result Result) {
	gen := c.gen.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{
		result:    result,
		gen:       gen,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// InvalidateAll bumps the generation and clears all entries. Called on
// configuration reload.
func (c *Cache) InvalidateAll() {
	c.gen.Add(1)

	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Generation returns the current cache generation.
func (c *Cache) Generation() uint64 {
	return c.gen.Load()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops expired and stale-generation entries first; if the
// map is still full it removes an arbitrary entry to stay bounded.
func (c *Cache) evictLocked() {
	now := time.Now()
	gen := c.gen.Load()
	for k, e := range c.entries {
		if e.gen != gen || now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
}
