// Package genstore hands out monotonically increasing generations per key.
//
// taskcache numbers every drain of a staged-write hash with a generation: the
// hash is renamed to "<hash>:drain:<gen>" before it is read, so two drains
// never share a snapshot. Use LocalGenStore for a single process, or
// RedisGenStore when several replicas drain the same hash.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
type GenStore interface {
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
