package main

import (
	"context"
	"fmt"
	stdslog "log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/flashsale"
	"github.com/unkn0wn-root/flashsale/codec"
	"github.com/unkn0wn-root/flashsale/config"
	asynchook "github.com/unkn0wn-root/flashsale/hooks/async"
	logrusl "github.com/unkn0wn-root/flashsale/log/logrus"
	slogl "github.com/unkn0wn-root/flashsale/log/slog"
	zapl "github.com/unkn0wn-root/flashsale/log/zap"
	zerologl "github.com/unkn0wn-root/flashsale/log/zerolog"
	"github.com/unkn0wn-root/flashsale/otelhooks"
	pr "github.com/unkn0wn-root/flashsale/provider"
	bcp "github.com/unkn0wn-root/flashsale/provider/bigcache"
	"github.com/unkn0wn-root/flashsale/provider/breaker"
	rdp "github.com/unkn0wn-root/flashsale/provider/redis"
	rp "github.com/unkn0wn-root/flashsale/provider/ristretto"
	"github.com/unkn0wn-root/flashsale/sloghooks"
	"github.com/unkn0wn-root/flashsale/store/memory"
	"github.com/unkn0wn-root/flashsale/store/postgres"
)

func newLogger(cfg config.LogConfig) (flashsale.Logger, error) {
	level := strings.ToLower(cfg.Level)
	switch cfg.Backend {
	case "zap":
		return zapl.New(level)
	case "logrus":
		return logrusl.New(level)
	case "zerolog":
		return zerologl.New(os.Stdout, level)
	case "slog":
		lvl, err := slogl.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		h := stdslog.NewJSONHandler(os.Stdout, &stdslog.HandlerOptions{Level: lvl})
		return slogl.Logger{L: stdslog.New(h)}, nil
	}
	return nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
}

// newHooks returns the hooks and a func that flushes them on shutdown.
func newHooks(cfg config.HooksConfig) (flashsale.Hooks, func(), error) {
	var inner flashsale.Hooks
	switch cfg.Backend {
	case "none":
		return flashsale.NopHooks{}, func() {}, nil
	case "otel":
		h, err := otelhooks.New(nil)
		if err != nil {
			return nil, nil, err
		}
		inner = h
	default:
		inner = sloghooks.New(stdslog.New(stdslog.NewTextHandler(os.Stderr, nil)), sloghooks.Options{
			SelfHealEvery:  10,
			ContendedEvery: 100,
			RejectedEvery:  100,
			PersistedEvery: 10,
		})
	}
	a := asynchook.New(inner, 2, cfg.AsyncQueue)
	return a, a.Close, nil
}

func newRedis(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// store is what the drill needs from a relational backend.
type store interface {
	flashsale.OrderRepository
	flashsale.ShopRepository
	UpsertVoucher(ctx context.Context, v flashsale.Voucher) error
}

func newStore(ctx context.Context, cfg config.PostgresConfig, log flashsale.Logger) (store, func(), error) {
	if cfg.DSN == "" {
		log.Warn("no postgres dsn, using in-memory store", nil)
		m := memory.New()
		m.PutShop(flashsale.Shop{ID: 1, Name: "Flagship", Area: "Downtown", AvgPrice: 120, OpenHours: "10:00-22:00"})
		return m, func() {}, nil
	}
	st, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
	}
	return st, st.Close, nil
}

func newProvider(ctx context.Context, cfg config.CacheConfig, rdb redis.UniversalClient, log flashsale.Logger) (pr.Provider, error) {
	var (
		p   pr.Provider
		err error
	)
	switch cfg.Provider {
	case "ristretto":
		p, err = rp.New(rp.Config{MaxBytes: 64 << 20})
	case "bigcache":
		p, err = bcp.New(ctx, bcp.Config{LifeWindow: cfg.TTL, CleanWindow: time.Minute})
	default:
		p, err = rdp.New(rdp.Config{Client: rdb})
	}
	if err != nil || !cfg.Breaker {
		return p, err
	}
	return breaker.New(p, breaker.Config{
		Name:     "cache:" + cfg.Provider,
		FailOpen: true,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("cache breaker state change", flashsale.Fields{"name": name, "from": from.String(), "to": to.String()})
		},
	})
}

func newShopCache(ctx context.Context, cfg config.CacheConfig, rdb redis.UniversalClient, log flashsale.Logger, hooks flashsale.Hooks) (*flashsale.Cache[flashsale.Shop], error) {
	p, err := newProvider(ctx, cfg, rdb, log)
	if err != nil {
		return nil, err
	}
	cd, err := codec.ByName[flashsale.Shop](cfg.Codec)
	if err != nil {
		return nil, err
	}
	return flashsale.NewCache(flashsale.CacheOptions[flashsale.Shop]{
		Entity:      "shop",
		Provider:    p,
		Codec:       codec.Limit[flashsale.Shop]{Inner: cd, MaxDecode: 1 << 20},
		Locker:      flashsale.NewRedisLocker(rdb),
		Logger:      log,
		Hooks:       hooks,
		TTL:         cfg.TTL,
		NegativeTTL: cfg.NegativeTTL,
		TTLJitter:   cfg.TTL / 10,
		LogicalTTL:  cfg.LogicalTTL,
	})
}
