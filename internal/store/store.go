// ABOUTME: Storage contracts and sentinel errors shared by both tiers
// ABOUTME: Defines the KV interface implemented by the cache and durable stores

package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is absent or its entry has expired.
var ErrKeyNotFound = errors.New("key not found")

// ErrNotFound is returned when a document (credential, user) doesn't exist.
var ErrNotFound = errors.New("not found")

// KV is a key/value store with per-entry TTL.
//
// A zero ttl means the entry does not expire. Implementations must treat an
// expired entry as absent on Get, even if physical removal happens later.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Sweeper removes entries that outlived their TTL. Both tiers implement it;
// periodic sweeps reconcile entries the tiers failed to drop on their own.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}
