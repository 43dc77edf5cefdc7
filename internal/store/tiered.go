// ABOUTME: Cache-aside-with-durable-fallback composition of two KV tiers
// ABOUTME: Cache errors are soft; the durable tier is the source of truth

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Tiered composes a fast cache tier and a durable tier into a single KV.
//
// Reads try the cache first and fall back to the durable tier on a miss or
// a cache failure; the two cases are handled identically for correctness
// but cache failures are logged and reported through OnCacheError so
// monitoring can tell an outage from ordinary eviction. Writes and deletes
// go to the durable tier first (source of truth), then to the cache.
type Tiered struct {
	cache   KV
	durable KV
	logger  *slog.Logger

	// OnCacheError, when set, is invoked once per soft cache failure.
	OnCacheError func(op string, err error)
}

// NewTiered creates a tiered KV over the given cache and durable stores.
func NewTiered(cache, durable KV) *Tiered {
	return &Tiered{
		cache:   cache,
		durable: durable,
		logger:  slog.Default().With("component", "tiered-store"),
	}
}

// Get returns the value for key from the cache tier, falling back to the
// durable tier. Returns ErrKeyNotFound if both tiers miss.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := t.cache.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		t.cacheError("get", err)
	}
	return t.durable.Get(ctx, key)
}

// Set writes key to the durable tier and then, best effort, to the cache.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.durable.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("durable set: %w", err)
	}
	if err := t.cache.Set(ctx, key, value, ttl); err != nil {
		t.cacheError("set", err)
	}
	return nil
}

// Delete removes key from both tiers. The cache delete is best effort; a
// stale cache entry expires on its own TTL.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	if err := t.durable.Delete(ctx, key); err != nil {
		return fmt.Errorf("durable delete: %w", err)
	}
	if err := t.cache.Delete(ctx, key); err != nil {
		t.cacheError("delete", err)
	}
	return nil
}

func (t *Tiered) cacheError(op string, err error) {
	t.logger.Warn("cache tier error", "op", op, "error", err)
	if t.OnCacheError != nil {
		t.OnCacheError(op, err)
	}
}

// Ensure Tiered implements KV.
var _ KV = (*Tiered)(nil)
