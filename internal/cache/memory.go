package cache

import (
	"context"
	"sync"
	"time"
)

// memItem stores a cached value together with its expiry time.
type memItem struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process cache with per-entry TTL and a bounded
// entry count. When the cache is full, the entry closest to expiry is
// evicted to make room.
//
// It is safe for concurrent use. A background goroutine periodically
// removes expired entries to prevent unbounded memory growth.
type MemoryCache struct {
	mu         sync.RWMutex
	items      map[string]memItem
	maxEntries int
	hits       uint64
	misses     uint64

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryStats is a snapshot of cache effectiveness counters.
type MemoryStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries entries
// (0 or less means unbounded) and starts the background cleanup loop. The
// cleanup goroutine stops when ctx is cancelled or Close is called.
func NewMemoryCache(ctx context.Context, maxEntries int) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]memItem),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.cleanup(ctx)
	return c
}

// Get returns the cached value for key. Returns (nil, false) on a miss or
// if the entry has expired. Expired entries are removed lazily on access.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.count(&c.misses)
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		// Lazy expiry — remove the stale entry without blocking reads.
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		c.count(&c.misses)
		return nil, false
	}

	c.count(&c.hits)
	return item.data, true
}

// Set stores value under key for the duration of ttl. A zero or negative
// ttl is treated as a 1-hour TTL. When the cache is at capacity and key is
// not already present, the entry with the earliest expiry is evicted.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}

	c.mu.Lock()
	if c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		if _, exists := c.items[key]; !exists {
			c.evictEarliestLocked()
		}
	}
	c.items[key] = memItem{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()

	return nil
}

// Delete removes key from the cache. Returns nil if the key did not exist.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held in the cache
// (including entries that may have expired but not yet been evicted).
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit/miss counters and the current entry count.
func (c *MemoryCache) Stats() MemoryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return MemoryStats{Hits: c.hits, Misses: c.misses, Entries: len(c.items)}
}

// Close stops the background cleanup goroutine. Safe to call twice.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *MemoryCache) count(field *uint64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// evictEarliestLocked removes the entry with the earliest expiry time.
// Caller must hold the write lock.
func (c *MemoryCache) evictEarliestLocked() {
	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for k, v := range c.items {
		if !found || v.expiresAt.Before(earliest) {
			victim, earliest, found = k, v.expiresAt, true
		}
	}
	if found {
		delete(c.items, victim)
	}
}

// cleanup runs every 5 minutes and evicts all expired entries.
func (c *MemoryCache) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
