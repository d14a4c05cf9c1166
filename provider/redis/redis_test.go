package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/taskcache/provider"
)

func newTestRedis(t *testing.T) (*Redis, string) {
	t.Helper()
	addr := os.Getenv("TASKCACHE_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKCACHE_REDIS_ADDR not set")
	}
	p, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: addr}), CloseClient: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, "taskcache-test:" + uuid.NewString()
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("want ErrNilClient, got %v", err)
	}
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	p, ns := newTestRedis(t)
	k := ns + ":Job:1"

	if _, ok, err := p.Get(ctx, k); ok || err != nil {
		t.Fatalf("miss expected: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, k, []byte("v"), 1, time.Minute); !ok || err != nil {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if b, ok, _ := p.Get(ctx, k); !ok || string(b) != "v" {
		t.Fatalf("Get=%q ok=%v", b, ok)
	}
	_ = p.Del(ctx, k)
	if _, ok, _ := p.Get(ctx, k); ok {
		t.Fatalf("deleted key still present")
	}
}

func TestHashRename(t *testing.T) {
	ctx := context.Background()
	p, ns := newTestRedis(t)
	src, dst := ns+":Job_updates_hash", ns+":Job_updates_hash:drain:1"
	defer func() { _ = p.DelHash(ctx, dst) }()

	if err := p.Rename(ctx, src, dst); !errors.Is(err, pr.ErrNoSuchKey) {
		t.Fatalf("rename of missing hash: %v", err)
	}
	_ = p.HSet(ctx, src, "a", []byte("1"))
	_ = p.HSet(ctx, src, "b", []byte("2"))
	if ok, _ := p.HExists(ctx, src, "a"); !ok {
		t.Fatalf("HExists a")
	}
	if err := p.Rename(ctx, src, dst); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := p.HExists(ctx, src, "a"); ok {
		t.Fatalf("source should be gone after rename")
	}
	all, err := p.HGetAll(ctx, dst)
	if err != nil || len(all) != 2 || string(all["b"]) != "2" {
		t.Fatalf("HGetAll=%v err=%v", all, err)
	}
	_ = p.HDel(ctx, dst, "a")
	if all, _ := p.HGetAll(ctx, dst); len(all) != 1 {
		t.Fatalf("HDel left %v", all)
	}
}
