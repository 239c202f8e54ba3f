package flashsale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/flashsale/internal/keys"
)

func newTestService(t *testing.T, repo *memOrders, opt func(*Options)) (Service, *recHooks) {
	t.Helper()
	_, rdb := newTestRedis(t)
	hooks := newRecHooks()
	opts := Options{Redis: rdb, Orders: repo, Hooks: hooks}
	if opt != nil {
		opt(&opts)
	}
	svc, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, hooks
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without redis")
	}
	_, rdb := newTestRedis(t)
	if _, err := New(Options{Redis: rdb}); err == nil {
		t.Fatalf("expected error without repository")
	}
}

func TestSeckillLastUnitOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := newMemOrders(map[int64]int64{7: 1})
	svc, hooks := newTestService(t, repo, nil)

	if err := svc.PrepareVoucher(ctx, Voucher{ID: 7, Stock: 1}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(ctx); err == nil {
		t.Fatalf("second Start must fail")
	}

	var (
		mu      sync.Mutex
		winners []int64
		soldOut int
		wg      sync.WaitGroup
	)
	for _, u := range []int64{100, 200} {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			id, err := svc.Seckill(ctx, 7, u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case errors.Is(err, ErrSoldOut):
				soldOut++
			default:
				t.Errorf("user %d: %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.Close(cctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(winners) != 1 || soldOut != 1 {
		t.Fatalf("winners=%v soldOut=%d", winners, soldOut)
	}
	rows := repo.rows()
	if len(rows) != 1 || rows[0].ID != winners[0] {
		t.Fatalf("rows=%+v winner=%d", rows, winners[0])
	}
	if hooks.count("rejected:sold_out") != 1 || hooks.count("persisted") != 1 {
		t.Fatalf("hooks: rejected=%d persisted=%d", hooks.count("rejected:sold_out"), hooks.count("persisted"))
	}
}

func TestSeckillDuplicateUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newMemOrders(map[int64]int64{7: 5}), nil)
	_ = svc.PrepareVoucher(ctx, Voucher{ID: 7, Stock: 5})

	if _, err := svc.Seckill(ctx, 7, 1); err != nil {
		t.Fatal(err)
	}
	if id, err := svc.Seckill(ctx, 7, 1); !errors.Is(err, ErrDuplicateOrder) || id != 0 {
		t.Fatalf("expected ErrDuplicateOrder and no id, got id=%d err=%v", id, err)
	}
}

func TestSeckillQueueFullKeepsReservation(t *testing.T) {
	ctx := context.Background()
	repo := newMemOrders(map[int64]int64{7: 5})
	svc, hooks := newTestService(t, repo, func(o *Options) {
		o.QueueCapacity = 1
		o.EnqueueTimeout = time.Millisecond
	})
	_ = svc.PrepareVoucher(ctx, Voucher{ID: 7, Stock: 5})

	first, err := svc.Seckill(ctx, 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Seckill(ctx, 7, 2)
	if !errors.Is(err, ErrQueueFull) || second == 0 {
		t.Fatalf("expected ErrQueueFull with reserved id, got id=%d err=%v", second, err)
	}
	if hooks.count("enqueue_rejected") != 1 {
		t.Fatalf("expected enqueue_rejected hook")
	}

	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	// order 1 may still be queued; Recover replays both and the worker dedups
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := svc.Recover(ctx)
		if err == nil && n == 2 || len(repo.rows()) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recover never caught up: n=%d err=%v", n, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.Close(cctx); err != nil {
		t.Fatal(err)
	}
	ids := map[int64]bool{}
	for _, r := range repo.rows() {
		ids[r.ID] = true
	}
	if len(ids) != 2 || !ids[first] || !ids[second] {
		t.Fatalf("rows: %+v (want %d and %d)", repo.rows(), first, second)
	}
	if repo.stock[7] != 3 {
		t.Fatalf("db stock: %d", repo.stock[7])
	}
	if hooks.count("anomaly") != 0 {
		t.Fatalf("replays must not be anomalies")
	}
}

func TestRecoverAfterCrash(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	repo := newMemOrders(map[int64]int64{7: 5})

	// first process admits and dies before the worker runs
	crashed, err := New(Options{Redis: rdb, Orders: repo})
	if err != nil {
		t.Fatal(err)
	}
	_ = crashed.PrepareVoucher(ctx, Voucher{ID: 7, Stock: 5})
	for u := int64(1); u <= 3; u++ {
		if _, err := crashed.Seckill(ctx, 7, u); err != nil {
			t.Fatal(err)
		}
	}

	svc, err := New(Options{Redis: rdb, Orders: repo})
	if err != nil {
		t.Fatal(err)
	}
	n, err := svc.Recover(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Recover: n=%d err=%v", n, err)
	}
	_ = svc.Start(ctx)
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.Close(cctx); err != nil {
		t.Fatal(err)
	}

	if len(repo.rows()) != 3 {
		t.Fatalf("rows: %d", len(repo.rows()))
	}
	if f, _ := mr.HKeys(keys.Pending(7)); len(f) != 0 {
		t.Fatalf("journal should be empty: %v", f)
	}
	if _, err := svc.Seckill(ctx, 7, 9); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("after Close: %v", err)
	}
}

func TestCloseWithoutStart(t *testing.T) {
	svc, _ := newTestService(t, newMemOrders(nil), nil)
	if err := svc.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
