// ABOUTME: Package documentation for the storage layer
// ABOUTME: Describes the two-tier key/value model and the SQLite document store

// Package store provides the storage layer for the passkey service.
//
// # Architecture
//
// Two kinds of storage back the service:
//
//   - KV: a generic key/value contract with per-entry TTL. MemoryCache
//     implements it as a fast in-process cache tier; SQLiteStore implements
//     it as the durable tier (expiry is recorded and enforced on read).
//   - Document collections: credentials, users, and authentication attempt
//     audit rows, persisted by SQLiteStore with typed methods.
//
// Tiered composes two KV implementations into the cache-aside-with-durable-
// fallback strategy used for challenge storage: reads try the cache first
// and fall back to the durable tier, writes and deletes go to both. Cache
// failures are soft; the durable tier is the source of truth.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
package store
