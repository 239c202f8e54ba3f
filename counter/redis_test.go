package counter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisIncrWithoutTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	s := NewRedis(rdb)

	for want := int64(1); want <= 2; want++ {
		got, err := s.Incr(ctx, "icr:order:2026:01:01")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %d want %d", got, want)
		}
	}
	if ttl := mr.TTL("icr:order:2026:01:01"); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
}

func TestRedisIncrRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	s := NewRedisWithTTL(rdb, 48*time.Hour)

	if n, err := s.Incr(ctx, "k"); err != nil || n != 1 {
		t.Fatalf("Incr: n=%d err=%v", n, err)
	}
	if ttl := mr.TTL("k"); ttl != 48*time.Hour {
		t.Fatalf("ttl: got %v", ttl)
	}

	mr.FastForward(49 * time.Hour)
	if n, err := s.Incr(ctx, "k"); err != nil || n != 1 {
		t.Fatalf("expired key should restart at 1: n=%d err=%v", n, err)
	}
}
