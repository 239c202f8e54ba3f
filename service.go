package flashsale

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/flashsale/counter"
)

type service struct {
	ids     *IDGenerator
	gate    *Gate
	journal *Journal
	queue   *OrderQueue
	worker  *OrderWorker
	prefix  string
	log     Logger
	hooks   Hooks

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

func newService(opts Options) (*service, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("flashsale: redis client is required")
	}
	if opts.Orders == nil {
		return nil, fmt.Errorf("flashsale: order repository is required")
	}

	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	ctr := coalesce[counter.Counter](opts.Counter, counter.NewRedis(opts.Redis))
	lk := coalesce[Locker](opts.Locker, NewRedisLocker(opts.Redis))

	ids, err := NewIDGenerator(ctr, opts.IDEpoch, opts.Now)
	if err != nil {
		return nil, err
	}
	journal := NewJournal(opts.Redis)
	queue := NewOrderQueue(opts.QueueCapacity, opts.EnqueueTimeout)
	worker, err := NewOrderWorker(WorkerOptions{
		Queue:       queue,
		Repository:  opts.Orders,
		Locker:      lk,
		Journal:     journal,
		Publisher:   opts.Publisher,
		Logger:      log,
		Hooks:       hooks,
		LockTTL:     opts.OrderLockTTL,
		LockRetries: opts.OrderLockRetries,
	})
	if err != nil {
		return nil, err
	}

	return &service{
		ids:     ids,
		gate:    NewGate(opts.Redis, opts.Now),
		journal: journal,
		queue:   queue,
		worker:  worker,
		prefix:  coalesce(opts.IDPrefix, defaultIDPrefix),
		log:     log,
		hooks:   hooks,
		done:    make(chan struct{}),
	}, nil
}

func (s *service) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	id, err := s.ids.Next(ctx, s.prefix)
	if err != nil {
		return 0, err
	}
	res, err := s.gate.Admit(ctx, voucherID, userID, id)
	if err != nil {
		return 0, err
	}
	if res != Admitted {
		s.hooks.AdmissionRejected(voucherID, userID, res.String())
		return 0, res.Err()
	}

	o := Order{ID: id, UserID: userID, VoucherID: voucherID}
	if err := s.queue.Enqueue(ctx, o); err != nil {
		s.hooks.EnqueueRejected(id, err)
		s.log.Warn("admitted order not queued; left in journal", Fields{"order": id, "user": userID, "voucher": voucherID, "err": err})
		return id, err
	}
	return id, nil
}

func (s *service) PrepareVoucher(ctx context.Context, v Voucher) error {
	if err := s.gate.Prepare(ctx, v); err != nil {
		return err
	}
	s.log.Info("voucher prepared", Fields{"voucher": v.ID, "stock": v.Stock})
	return nil
}

func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("flashsale: service already started")
	}
	s.started = true
	go func() {
		defer close(s.done)
		s.worker.Run(ctx)
	}()
	return nil
}

func (s *service) Recover(ctx context.Context) (int, error) {
	orders, bad, err := s.journal.Pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(bad) > 0 {
		s.log.Error("dropping malformed journal entries", Fields{"entries": fmt.Sprint(bad)})
		if err := s.journal.Drop(ctx, bad...); err != nil {
			s.log.Warn("journal drop failed", Fields{"err": err})
		}
	}

	n := 0
	for _, o := range orders {
		if err := s.queue.Enqueue(ctx, o); err != nil {
			if errors.Is(err, ErrQueueFull) {
				s.log.Warn("recovery paused: queue full", Fields{"queued": n, "pending": len(orders)})
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info("recovered pending orders", Fields{"count": n})
	}
	return n, nil
}

func (s *service) Close(ctx context.Context) error {
	s.queue.Close()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
