package bigcache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestBigCacheProvider(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	if _, ok, err := p.Get(ctx, "cache:shop:1"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
	val := []byte("frame")
	if ok, err := p.Set(ctx, "cache:shop:1", val, 1, time.Second); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "cache:shop:1")
	if err != nil || !ok || !bytes.Equal(got, val) {
		t.Fatalf("Get: %q ok=%v err=%v", got, ok, err)
	}
	if err := p.Del(ctx, "cache:shop:1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Del(ctx, "cache:shop:1"); err != nil {
		t.Fatalf("deleting a missing key: %v", err)
	}
}

func TestBigCacheRequiresLifeWindow(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
