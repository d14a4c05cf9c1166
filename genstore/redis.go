package genstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares drain generations across replicas and survives restarts.
// Optionally, a TTL can be applied to generation keys to prevent unbounded growth.
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string        // key prefix; usually the project name
	ttl         time.Duration // optional TTL for generation keys; 0 disables expiry
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore creates a Redis-backed generation store without TTL.
// The client is shared; Close leaves it open.
func NewRedisGenStore(client redis.UniversalClient, namespace string) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace}
}

// NewRedisGenStoreWithTTL creates a Redis-backed generation store with TTL.
// If ttl <= 0, keys do not expire. The TTL must comfortably exceed the drain
// interval, otherwise a generation can restart while an old drain key exists.
func NewRedisGenStoreWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl}
}

// OwnClient makes Close also close the redis client.
func (s *RedisGenStore) OwnClient() *RedisGenStore {
	s.closeClient = true
	return s
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

// Bump atomically increments the generation and (optionally) refreshes TTL.
// When ttl > 0, INCR + EXPIRE are pipelined in a single round-trip.
func (s *RedisGenStore) Bump(ctx context.Context, key string) (uint64, error) {
	k := s.key(key)

	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Cleanup is not applicable for RedisGenStore (Redis handles expiry if TTL is set).
func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
