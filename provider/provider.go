// Package provider defines the staging-cache abstractions used by taskcache.
//
// Two shapes are consumed:
//
//   - Provider: a byte store with per-key TTL. Holds the fast-read snapshot
//     "{project}:{Type}:{uid}".
//   - HashStore: a keyed hash map. Holds the staged writes
//     "{project}:{Type}_updates_hash" -> uid -> snapshot.
//
// Implementations MUST be byte-for-byte transparent: Get/HGetAll must return
// exactly the bytes previously stored (no prepended metadata, no re-encoding).
//
// Important: keys under "{project}:{Type}" are owned by taskcache. Foreign
// writes are treated as corruption by strict frame validation and deleted.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNoSuchKey is returned by Rename when the source key does not exist.
var ErrNoSuchKey = errors.New("provider: no such key")

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// HashStore is a hash-of-fields store. Staged writes live in one hash per entity
// type; the write-behind drain swaps the whole hash away with Rename before
// reading it, so Rename must be atomic with respect to HSet on the source key.
type HashStore interface {
	// HSet sets field in the hash at key, creating the hash when missing.
	HSet(ctx context.Context, key, field string, value []byte) error
	// HExists reports whether field is present in the hash at key.
	HExists(ctx context.Context, key, field string) (bool, error)
	// HDel removes field from the hash at key. Missing fields are not an error.
	HDel(ctx context.Context, key, field string) error
	// HGetAll returns every field of the hash at key; a missing key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	// Rename atomically moves src to dst, replacing dst.
	// Returns ErrNoSuchKey when src does not exist.
	Rename(ctx context.Context, src, dst string) error
	// DelHash removes the whole hash at key.
	DelHash(ctx context.Context, key string) error
}
