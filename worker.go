package flashsale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/flashsale/internal/keys"
)

// WorkerOptions configure an OrderWorker. Queue, Repository, Locker and
// Journal are required.
type WorkerOptions struct {
	Queue      *OrderQueue
	Repository OrderRepository
	Locker     Locker
	Journal    *Journal

	Publisher         OrderPublisher // nil => no events
	Logger            Logger         // nil => NopLogger
	Hooks             Hooks          // nil => NopHooks
	LockTTL           time.Duration  // per-user lock; 0 => 10s
	LockRetries       int            // 0 => 5
	LockRetryInterval time.Duration  // 0 => 50ms, doubling up to 500ms
}

// OrderWorker is the single consumer of the order queue. For each order it
// takes the per-user lock, runs CreateOrder in a transaction, commits and
// clears the journal entry.
type OrderWorker struct {
	queue   *OrderQueue
	repo    OrderRepository
	locker  Locker
	journal *Journal
	pub     OrderPublisher
	log     Logger
	hooks   Hooks

	lockTTL       time.Duration
	lockRetries   int
	retryInterval time.Duration
}

func NewOrderWorker(opts WorkerOptions) (*OrderWorker, error) {
	switch {
	case opts.Queue == nil:
		return nil, fmt.Errorf("flashsale: worker queue is required")
	case opts.Repository == nil:
		return nil, fmt.Errorf("flashsale: worker repository is required")
	case opts.Locker == nil:
		return nil, fmt.Errorf("flashsale: worker locker is required")
	case opts.Journal == nil:
		return nil, fmt.Errorf("flashsale: worker journal is required")
	}
	return &OrderWorker{
		queue:         opts.Queue,
		repo:          opts.Repository,
		locker:        opts.Locker,
		journal:       opts.Journal,
		pub:           coalesce[OrderPublisher](opts.Publisher, nopPublisher{}),
		log:           coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:         coalesce[Hooks](opts.Hooks, NopHooks{}),
		lockTTL:       coalesce(opts.LockTTL, defaultOrderLockTTL),
		lockRetries:   coalesce(opts.LockRetries, defaultOrderLockTries),
		retryInterval: coalesce(opts.LockRetryInterval, defaultRetryInterval),
	}, nil
}

// Run consumes the queue until it is closed and drained, or ctx is done.
// A failing order never stops the loop.
func (w *OrderWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-w.queue.ch:
			if !ok {
				return
			}
			w.safeHandle(ctx, o)
		}
	}
}

func (w *OrderWorker) safeHandle(ctx context.Context, o Order) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("order task panicked", Fields{"order": o.ID, "user": o.UserID, "panic": r})
		}
	}()
	if err := w.Handle(ctx, o); err != nil && !isAnomaly(err) {
		w.log.Warn("order left pending", Fields{"order": o.ID, "user": o.UserID, "voucher": o.VoucherID, "err": err})
	}
}

func isAnomaly(err error) bool {
	return errors.Is(err, ErrOrderExists) || errors.Is(err, ErrStockGuard)
}

// Handle persists one order. Anomalies (ErrOrderExists, ErrStockGuard) are
// acknowledged and returned; any other error leaves the journal entry for
// Recover.
func (w *OrderWorker) Handle(ctx context.Context, o Order) error {
	lk, err := w.lockUser(ctx, o.UserID)
	if err != nil {
		return err
	}
	defer func() {
		// best effort; the ttl frees it otherwise
		if _, err := w.locker.Release(context.WithoutCancel(ctx), lk); err != nil {
			w.log.Warn("order lock release failed", Fields{"key": lk.Key, "err": err})
		}
	}()

	if err := w.persist(ctx, o); err != nil {
		if !isAnomaly(err) {
			return err
		}
		w.log.Error("order rejected by store", Fields{"order": o.ID, "user": o.UserID, "voucher": o.VoucherID, "err": err})
		w.hooks.ReconcileAnomaly(o, err)
		w.ack(ctx, o)
		return err
	}

	w.ack(ctx, o)
	w.hooks.OrderPersisted(o)
	if err := w.pub.OrderCreated(ctx, o); err != nil {
		w.log.Warn("order event publish failed", Fields{"order": o.ID, "err": err})
	}
	return nil
}

func (w *OrderWorker) persist(ctx context.Context, o Order) error {
	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flashsale: begin order %d: %w", o.ID, err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := CreateOrder(ctx, tx, o); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("flashsale: commit order %d: %w", o.ID, err)
	}
	return nil
}

func (w *OrderWorker) ack(ctx context.Context, o Order) {
	if err := w.journal.Ack(context.WithoutCancel(ctx), o); err != nil {
		// entry stays for Recover
		w.log.Warn("journal ack failed", Fields{"order": o.ID, "err": err})
	}
}

func (w *OrderWorker) lockUser(ctx context.Context, userID int64) (Lock, error) {
	key := keys.OrderLock(userID)
	bo := newBackoff(w.retryInterval, defaultMaxRetryIntvl, w.lockRetries)
	defer bo.stop()
	for {
		lk, ok, err := w.locker.Acquire(ctx, key, w.lockTTL)
		if err != nil {
			return Lock{}, err
		}
		if ok {
			return lk, nil
		}
		w.hooks.LockContended(key)
		more, err := bo.wait(ctx)
		if err != nil {
			return Lock{}, err
		}
		if !more {
			return Lock{}, fmt.Errorf("%w: %s", ErrLockContended, key)
		}
	}
}
