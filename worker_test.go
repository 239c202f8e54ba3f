package flashsale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/flashsale/internal/keys"
)

// memOrders is an in-memory OrderRepository. Tx writes land on Commit.
type memOrders struct {
	mu        sync.Mutex
	stock     map[int64]int64
	orders    map[int64]Order
	beginErr  error
	commitErr error
	commits   int
}

var _ OrderRepository = (*memOrders)(nil)

func newMemOrders(stock map[int64]int64) *memOrders {
	return &memOrders{stock: stock, orders: make(map[int64]Order)}
}

func (r *memOrders) Begin(context.Context) (OrderTx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	return &memTx{r: r}, nil
}

func (r *memOrders) rows() []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out
}

type memTx struct {
	r      *memOrders
	decs   []int64
	ins    []Order
	closed bool
}

func (tx *memTx) FindOrder(_ context.Context, userID, voucherID int64) (int64, bool, error) {
	tx.r.mu.Lock()
	defer tx.r.mu.Unlock()
	for _, o := range tx.r.orders {
		if o.UserID == userID && o.VoucherID == voucherID {
			return o.ID, true, nil
		}
	}
	return 0, false, nil
}

func (tx *memTx) DecrementStock(_ context.Context, voucherID int64) (bool, error) {
	tx.r.mu.Lock()
	defer tx.r.mu.Unlock()
	if tx.r.stock[voucherID] <= 0 {
		return false, nil
	}
	tx.decs = append(tx.decs, voucherID)
	return true, nil
}

func (tx *memTx) InsertOrder(_ context.Context, o Order) error {
	tx.ins = append(tx.ins, o)
	return nil
}

func (tx *memTx) Commit(context.Context) error {
	tx.r.mu.Lock()
	defer tx.r.mu.Unlock()
	if tx.r.commitErr != nil {
		return tx.r.commitErr
	}
	for _, v := range tx.decs {
		tx.r.stock[v]--
	}
	for _, o := range tx.ins {
		tx.r.orders[o.ID] = o
	}
	tx.r.commits++
	tx.closed = true
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.closed = true
	return nil
}

type recPublisher struct {
	mu  sync.Mutex
	got []Order
	err error
}

func (p *recPublisher) OrderCreated(_ context.Context, o Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, o)
	return p.err
}

type workerEnv struct {
	w       *OrderWorker
	q       *OrderQueue
	repo    *memOrders
	lk      *memLocker
	hooks   *recHooks
	pub     *recPublisher
	journal *Journal
	pending func() []string
}

func newWorkerEnv(t *testing.T, stock map[int64]int64) *workerEnv {
	t.Helper()
	mr, rdb := newTestRedis(t)
	env := &workerEnv{
		q:       NewOrderQueue(16, 0),
		repo:    newMemOrders(stock),
		lk:      newMemLocker(),
		hooks:   newRecHooks(),
		pub:     &recPublisher{},
		journal: NewJournal(rdb),
		pending: func() []string {
			f, _ := mr.HKeys(keys.Pending(7))
			return f
		},
	}
	// seed the journal the way the admission script would
	mr.SAdd(keys.Vouchers, "7")
	mr.HSet(keys.Pending(7), "1", "10:7", "2", "11:7")
	w, err := NewOrderWorker(WorkerOptions{
		Queue:             env.q,
		Repository:        env.repo,
		Locker:            env.lk,
		Journal:           env.journal,
		Publisher:         env.pub,
		Hooks:             env.hooks,
		LockRetries:       2,
		LockRetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOrderWorker: %v", err)
	}
	env.w = w
	return env
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	repo := newMemOrders(map[int64]int64{7: 1})
	o := Order{ID: 1, UserID: 10, VoucherID: 7}

	tx, _ := repo.Begin(ctx)
	if err := CreateOrder(ctx, tx, o); err != nil {
		t.Fatalf("first: %v", err)
	}
	_ = tx.Commit(ctx)

	tx, _ = repo.Begin(ctx)
	if err := CreateOrder(ctx, tx, o); err != nil {
		t.Fatalf("replay of the same id must be a no-op, got %v", err)
	}
	if len(tx.(*memTx).decs) != 0 {
		t.Fatalf("replay must not touch stock")
	}

	tx, _ = repo.Begin(ctx)
	if err := CreateOrder(ctx, tx, Order{ID: 2, UserID: 10, VoucherID: 7}); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}

	tx, _ = repo.Begin(ctx)
	if err := CreateOrder(ctx, tx, Order{ID: 3, UserID: 11, VoucherID: 7}); !errors.Is(err, ErrStockGuard) {
		t.Fatalf("expected ErrStockGuard, got %v", err)
	}
}

func TestWorkerHandlePersistsAndAcks(t *testing.T) {
	ctx := context.Background()
	env := newWorkerEnv(t, map[int64]int64{7: 5})
	o := Order{ID: 1, UserID: 10, VoucherID: 7}

	if err := env.w.Handle(ctx, o); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rows := env.repo.rows(); len(rows) != 1 || rows[0] != o {
		t.Fatalf("rows: %+v", rows)
	}
	if env.repo.stock[7] != 4 {
		t.Fatalf("stock: %d", env.repo.stock[7])
	}
	if p := env.pending(); len(p) != 1 || p[0] != "2" {
		t.Fatalf("journal should only hold order 2: %v", p)
	}
	if env.hooks.count("persisted") != 1 || len(env.pub.got) != 1 {
		t.Fatalf("persisted=%d published=%d", env.hooks.count("persisted"), len(env.pub.got))
	}
	if env.lk.isHeld(keys.OrderLock(10)) {
		t.Fatalf("user lock must be released")
	}
}

func TestWorkerAnomalyIsAckedAndDropped(t *testing.T) {
	ctx := context.Background()
	env := newWorkerEnv(t, map[int64]int64{7: 0})

	err := env.w.Handle(ctx, Order{ID: 1, UserID: 10, VoucherID: 7})
	if !errors.Is(err, ErrStockGuard) {
		t.Fatalf("expected ErrStockGuard, got %v", err)
	}
	if env.hooks.count("anomaly") != 1 {
		t.Fatalf("expected anomaly hook")
	}
	for _, f := range env.pending() {
		if f == "1" {
			t.Fatalf("anomalous order must be acked")
		}
	}
	if len(env.repo.rows()) != 0 {
		t.Fatalf("nothing must be written")
	}
}

func TestWorkerInfraErrorLeavesJournal(t *testing.T) {
	ctx := context.Background()
	env := newWorkerEnv(t, map[int64]int64{7: 5})
	env.repo.commitErr = errors.New("db down")

	if err := env.w.Handle(ctx, Order{ID: 1, UserID: 10, VoucherID: 7}); err == nil {
		t.Fatalf("expected commit error")
	}
	if len(env.pending()) != 2 {
		t.Fatalf("journal must keep the order for Recover: %v", env.pending())
	}
	if env.hooks.count("anomaly") != 0 || env.hooks.count("persisted") != 0 {
		t.Fatalf("infra errors are neither anomalies nor successes")
	}
}

func TestWorkerUserLockContended(t *testing.T) {
	ctx := context.Background()
	env := newWorkerEnv(t, map[int64]int64{7: 5})
	_, _, _ = env.lk.Acquire(ctx, keys.OrderLock(10), time.Minute)

	if err := env.w.Handle(ctx, Order{ID: 1, UserID: 10, VoucherID: 7}); !errors.Is(err, ErrLockContended) {
		t.Fatalf("expected ErrLockContended, got %v", err)
	}
	if len(env.pending()) != 2 || len(env.repo.rows()) != 0 {
		t.Fatalf("contended order must stay pending")
	}
}

func TestWorkerPublishFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	env := newWorkerEnv(t, map[int64]int64{7: 5})
	env.pub.err = errors.New("kafka down")

	if err := env.w.Handle(ctx, Order{ID: 1, UserID: 10, VoucherID: 7}); err != nil {
		t.Fatalf("publish errors must not fail the order: %v", err)
	}
	if len(env.repo.rows()) != 1 {
		t.Fatalf("commit must stand")
	}
}

type panicRepo struct{}

func (panicRepo) Begin(context.Context) (OrderTx, error) { panic("boom") }

func TestWorkerRunSurvivesFailuresAndDrains(t *testing.T) {
	env := newWorkerEnv(t, map[int64]int64{7: 5})
	ctx := context.Background()

	boom, _ := NewOrderWorker(WorkerOptions{Queue: env.q, Repository: panicRepo{}, Locker: env.lk, Journal: env.journal})
	_ = env.q.Enqueue(ctx, Order{ID: 9, UserID: 99, VoucherID: 7})
	env.q.Close()
	boom.Run(ctx) // must not panic, returns once drained

	q := NewOrderQueue(8, 0)
	env.w.queue = q
	_ = q.Enqueue(ctx, Order{ID: 1, UserID: 10, VoucherID: 7})
	_ = q.Enqueue(ctx, Order{ID: 5, UserID: 10, VoucherID: 7}) // anomaly: second order for user 10
	_ = q.Enqueue(ctx, Order{ID: 2, UserID: 11, VoucherID: 7})
	q.Close()

	done := make(chan struct{})
	go func() { env.w.Run(ctx); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after the queue drained")
	}
	if len(env.repo.rows()) != 2 || env.hooks.count("anomaly") != 1 {
		t.Fatalf("rows=%d anomalies=%d", len(env.repo.rows()), env.hooks.count("anomaly"))
	}
	if len(env.pending()) != 0 {
		t.Fatalf("journal should be empty: %v", env.pending())
	}
}

func TestNewOrderWorkerValidation(t *testing.T) {
	if _, err := NewOrderWorker(WorkerOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}
