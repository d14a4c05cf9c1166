package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/taskcache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Redis serves both the fast-read snapshot keys and the staged-write hashes.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ pr.Provider  = (*Redis)(nil)
	_ pr.HashStore = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0 // treat non-positive TTLs as "no expiry" per provider contract
	}

	err := p.rdb.Set(ctx, key, value, ttl).Err()
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

func (p *Redis) HSet(ctx context.Context, key, field string, value []byte) error {
	return p.rdb.HSet(ctx, key, field, value).Err()
}

func (p *Redis) HExists(ctx context.Context, key, field string) (bool, error) {
	return p.rdb.HExists(ctx, key, field).Result()
}

func (p *Redis) HDel(ctx context.Context, key, field string) error {
	return p.rdb.HDel(ctx, key, field).Err()
}

func (p *Redis) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	res, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(res))
	for f, v := range res {
		out[f] = []byte(v)
	}
	return out, nil
}

// Rename uses RENAME, which is atomic on the server: an HSET racing the drain
// lands either in the renamed hash or in a fresh source hash, never in between.
// In cluster mode src and dst must share a hash slot; taskcache drain keys
// extend the source key, so wrap the project in {braces} when sharding.
func (p *Redis) Rename(ctx context.Context, src, dst string) error {
	err := p.rdb.Rename(ctx, src, dst).Err()
	if err != nil && strings.Contains(err.Error(), "no such key") {
		return pr.ErrNoSuchKey
	}
	return err
}

func (p *Redis) DelHash(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
