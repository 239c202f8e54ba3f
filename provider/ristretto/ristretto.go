package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/flashsale/provider"
)

// Provider is an in-process cache for single-node deployments and tests.
// The budget is in bytes: a write costs the size of its frame unless the
// cache was given a larger explicit cost. Ristretto admits writes
// asynchronously and may refuse them under pressure; Set reports that as
// ok=false.
type Provider struct {
	c *rc.Cache
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	MaxBytes      int64 // total frame bytes kept
	ExpectedItems int64 // sizes the admission counters; 0 => MaxBytes/256
	Metrics       bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.MaxBytes <= 0 || cfg.ExpectedItems < 0 {
		return nil, errors.New("ristretto: MaxBytes must be > 0")
	}
	items := cfg.ExpectedItems
	if items == 0 {
		items = max(cfg.MaxBytes/256, 1)
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: items * 10,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	if b, _ := v.([]byte); b != nil {
		return b, true, nil
	}
	p.c.Del(key)
	return nil, false, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	cost = max(cost, int64(len(value)))
	if ttl < 0 {
		ttl = 0
	}
	return p.c.SetWithTTL(key, value, cost, ttl), nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are visible to Get.
func (p *Provider) Wait() { p.c.Wait() }

func (p *Provider) Close(context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics is nil unless Config.Metrics was set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
