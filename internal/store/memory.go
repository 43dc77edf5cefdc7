// ABOUTME: In-memory TTL cache tier implementing the KV interface
// ABOUTME: RWMutex-guarded map with a background sweep of expired entries

package store

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds a cached value and its expiry.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is an in-process KV cache with per-entry TTL.
// In production deployments the cache tier would typically be Redis; the
// contract is the same either way and the service never depends on the
// cache for correctness.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	cancel  context.CancelFunc
}

// NewMemoryCache creates a cache and starts its cleanup goroutine, which
// sweeps expired entries every sweepInterval. Call Close to stop it.
func NewMemoryCache(sweepInterval time.Duration) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		cancel:  cancel,
	}
	go c.cleanupLoop(ctx, sweepInterval)
	return c
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Get returns the value for key, or ErrKeyNotFound if absent or expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrKeyNotFound
	}
	// Copy so callers can't mutate the cached value.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key. A zero ttl means no expiry.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	e := &memoryEntry{value: stored}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// DeleteExpired removes all expired entries and returns how many were removed.
func (c *MemoryCache) DeleteExpired(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries currently held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (c *MemoryCache) cleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.DeleteExpired(ctx)
		}
	}
}
