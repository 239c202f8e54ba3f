// Command flashsale runs a flash-sale drill against Redis and the order
// store: it seeds a voucher, replays any journalled orders, releases a crowd
// of simulated users at it and reports how the stock was taken.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/flashsale"
	"github.com/unkn0wn-root/flashsale/config"
	kp "github.com/unkn0wn-root/flashsale/publish/kafka"
)

func main() {
	path := flag.String("config", "flashsale.yaml", "path to the YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *path); err != nil {
		fmt.Fprintln(os.Stderr, "flashsale:", err)
		os.Exit(1)
	}
}

const replayWait = 50 * time.Millisecond

type tally struct {
	admitted, soldOut, duplicate, notStarted, ended, queued, failed atomic.Int64
}

func (t *tally) count(err error) {
	switch {
	case err == nil:
		t.admitted.Add(1)
	case errors.Is(err, flashsale.ErrSoldOut):
		t.soldOut.Add(1)
	case errors.Is(err, flashsale.ErrDuplicateOrder):
		t.duplicate.Add(1)
	case errors.Is(err, flashsale.ErrSaleNotStarted):
		t.notStarted.Add(1)
	case errors.Is(err, flashsale.ErrSaleEnded):
		t.ended.Add(1)
	case errors.Is(err, flashsale.ErrQueueFull), errors.Is(err, flashsale.ErrQueueClosed):
		t.queued.Add(1) // reserved, persisted later by Recover
	default:
		t.failed.Add(1)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	hooks, flushHooks, err := newHooks(cfg.Hooks)
	if err != nil {
		return err
	}
	defer flushHooks()

	rdb := newRedis(cfg.Redis)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}

	st, closeStore, err := newStore(ctx, cfg.Postgres, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var pub flashsale.OrderPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kp.New(kp.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, Logger: log})
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p
	}

	svc, err := flashsale.New(flashsale.Options{
		Redis:            rdb,
		Orders:           st,
		Publisher:        pub,
		Logger:           log,
		Hooks:            hooks,
		IDPrefix:         cfg.Orders.IDPrefix,
		QueueCapacity:    cfg.Orders.QueueCapacity,
		EnqueueTimeout:   cfg.Orders.EnqueueTimeout,
		OrderLockTTL:     cfg.Orders.LockTTL,
		OrderLockRetries: cfg.Orders.LockRetries,
	})
	if err != nil {
		return err
	}

	if cfg.Drill.ShopID > 0 {
		if err := readShop(ctx, cfg, rdb, st, log, hooks); err != nil {
			log.Warn("shop read failed", flashsale.Fields{"shop_id": cfg.Drill.ShopID, "err": err})
		}
	}

	v := flashsale.Voucher{ID: cfg.Drill.VoucherID, Stock: cfg.Drill.Stock}
	if cfg.Drill.Window > 0 {
		v.Begin = time.Now()
		v.End = v.Begin.Add(cfg.Drill.Window)
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}
	// replay before reseeding; journalled orders belong to the previous run
	n, err := replayJournal(ctx, svc, replayWait, log)
	if err != nil {
		return err
	}
	if n > 0 {
		// drain them before stock is reset
		if err := svc.Close(ctx); err != nil {
			return err
		}
		fmt.Printf("persisted %d journalled orders from a previous run, rerun to start a new drill\n", n)
		return nil
	}

	if err := st.UpsertVoucher(ctx, v); err != nil {
		return err
	}
	if err := svc.PrepareVoucher(ctx, v); err != nil {
		return err
	}
	log.Info("drill starting", flashsale.Fields{"voucher": v.ID, "stock": v.Stock, "users": cfg.Drill.Users})

	var t tally
	start := time.Now()
	var wg sync.WaitGroup
	for u := 1; u <= cfg.Drill.Users; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for i := 0; i < cfg.Drill.Attempts && ctx.Err() == nil; i++ {
				_, err := svc.Seckill(ctx, v.ID, userID)
				t.count(err)
			}
		}(int64(u))
	}
	wg.Wait()
	took := time.Since(start)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		return err
	}

	fmt.Printf("drill finished in %v\n", took.Round(time.Millisecond))
	fmt.Printf("  admitted     %d\n", t.admitted.Load())
	fmt.Printf("  sold out     %d\n", t.soldOut.Load())
	fmt.Printf("  duplicate    %d\n", t.duplicate.Load())
	fmt.Printf("  not started  %d\n", t.notStarted.Load())
	fmt.Printf("  ended        %d\n", t.ended.Load())
	fmt.Printf("  journalled   %d\n", t.queued.Load())
	fmt.Printf("  failed       %d\n", t.failed.Load())
	return nil
}

func readShop(ctx context.Context, cfg config.Config, rdb redis.UniversalClient, st store, log flashsale.Logger, hooks flashsale.Hooks) error {
	cache, err := newShopCache(ctx, cfg.Cache, rdb, log, hooks)
	if err != nil {
		return err
	}
	defer cache.Close(context.WithoutCancel(ctx))

	strategy, err := flashsale.ParseReadStrategy(cfg.Cache.Strategy)
	if err != nil {
		return err
	}
	shops, err := flashsale.NewShopService(cache, st, strategy)
	if err != nil {
		return err
	}
	if strategy == flashsale.ReadLogicalExpire {
		if _, err := shops.Warm(ctx, cfg.Cache.LogicalTTL, cfg.Drill.ShopID); err != nil {
			return err
		}
	}
	for i := 0; i < 2; i++ { // second read is served from the cache
		shop, found, err := shops.Get(ctx, cfg.Drill.ShopID)
		if err != nil {
			return err
		}
		log.Info("shop read", flashsale.Fields{"shop_id": cfg.Drill.ShopID, "found": found, "name": shop.Name, "strategy": strategy.String()})
	}
	return nil
}
