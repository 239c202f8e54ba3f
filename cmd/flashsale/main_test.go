package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/flashsale"
	"github.com/unkn0wn-root/flashsale/config"
	"github.com/unkn0wn-root/flashsale/internal/keys"
	"github.com/unkn0wn-root/flashsale/store/memory"
)

func TestTallyCount(t *testing.T) {
	var tl tally
	for _, err := range []error{
		nil,
		flashsale.ErrSoldOut,
		fmt.Errorf("wrapped: %w", flashsale.ErrDuplicateOrder),
		flashsale.ErrQueueFull,
		errors.New("redis down"),
	} {
		tl.count(err)
	}
	if tl.admitted.Load() != 1 || tl.soldOut.Load() != 1 || tl.duplicate.Load() != 1 ||
		tl.queued.Load() != 1 || tl.failed.Load() != 1 {
		t.Fatalf("unexpected tally %+v", &tl)
	}
}

func TestNewLoggerBackends(t *testing.T) {
	for _, b := range []string{"zap", "logrus", "slog", "zerolog"} {
		l, err := newLogger(config.LogConfig{Backend: b, Level: "INFO"})
		if err != nil || l == nil {
			t.Fatalf("%s: %v", b, err)
		}
	}
	if _, err := newLogger(config.LogConfig{Backend: "printf", Level: "info"}); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestNewHooksBackends(t *testing.T) {
	for _, b := range []string{"none", "slog", "otel"} {
		h, flush, err := newHooks(config.HooksConfig{Backend: b, AsyncQueue: 8})
		if err != nil {
			t.Fatalf("%s: %v", b, err)
		}
		h.LockContended("lock:shop:1")
		flush()
	}
}

func TestShopCacheProviders(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	for _, p := range []string{"redis", "ristretto", "bigcache"} {
		cfg := config.Default().Cache
		cfg.Provider = p
		cfg.Breaker = p == "redis"
		cfg.Codec = "msgpack"
		c, err := newShopCache(ctx, cfg, rdb, flashsale.NopLogger{}, flashsale.NopHooks{})
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		_ = c.Close(ctx)
	}
}

type stepRecoverer struct {
	full  int
	calls int
}

func (r *stepRecoverer) Recover(context.Context) (int, error) {
	r.calls++
	if r.calls <= r.full {
		return 2, flashsale.ErrQueueFull
	}
	return 3, nil
}

func TestReplayJournalRetriesFullQueue(t *testing.T) {
	r := &stepRecoverer{full: 3}
	n, err := replayJournal(context.Background(), r, time.Millisecond, flashsale.NopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	if r.calls != 4 || n != 9 {
		t.Fatalf("calls=%d n=%d", r.calls, n)
	}
}

func TestReplayJournalStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &stepRecoverer{full: 1 << 30}
	if _, err := replayJournal(ctx, r, time.Hour, flashsale.NopLogger{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if r.calls != 1 {
		t.Fatalf("calls=%d", r.calls)
	}
}

type failRecoverer struct{ err error }

func (r failRecoverer) Recover(context.Context) (int, error) { return 0, r.err }

func TestReplayJournalReturnsOtherErrors(t *testing.T) {
	boom := errors.New("redis down")
	if _, err := replayJournal(context.Background(), failRecoverer{boom}, time.Millisecond, flashsale.NopLogger{}); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

// A journal larger than the queue is persisted once the worker runs first.
func TestReplayJournalDrainsOversizedJournal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()
	st := memory.New()
	if err := st.UpsertVoucher(ctx, flashsale.Voucher{ID: 7, Stock: 20}); err != nil {
		t.Fatal(err)
	}

	mr.SAdd(keys.Vouchers, "7")
	for i := int64(1); i <= 20; i++ {
		mr.HSet(keys.Pending(7), strconv.FormatInt(i, 10), strconv.FormatInt(100+i, 10)+":7")
	}

	svc, err := flashsale.New(flashsale.Options{Redis: rdb, Orders: st, QueueCapacity: 4, EnqueueTimeout: time.Microsecond})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := replayJournal(rctx, svc, time.Millisecond, flashsale.NopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	if n < 20 {
		t.Fatalf("replayed %d", n)
	}
	if err := svc.Close(rctx); err != nil {
		t.Fatal(err)
	}
	if got := st.Orders(); got != 20 {
		t.Fatalf("orders: %d", got)
	}
	if mr.Exists(keys.Pending(7)) {
		t.Fatalf("journal should be empty")
	}
}
