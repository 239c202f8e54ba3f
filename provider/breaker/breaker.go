// Package breaker guards a Provider with a circuit breaker so a failing
// cache backend is skipped quickly instead of adding a timeout to every read.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	pr "github.com/unkn0wn-root/flashsale/provider"
)

type Config struct {
	Name        string        // "" => "cache"
	MaxRequests uint32        // trial requests allowed while half-open; 0 => 1
	Interval    time.Duration // closed-state counter reset; 0 => 10s
	Timeout     time.Duration // open => half-open; 0 => 30s
	MinRequests uint32        // trip only after this many requests; 0 => 5
	FailRatio   float64       // trip at this failure ratio; 0 => 0.5

	// FailOpen turns Get errors and open-circuit reads into misses, so reads
	// fall through to the source of truth. Writes are then reported as
	// rejected (ok=false). Del always surfaces its error.
	FailOpen bool

	OnStateChange func(name string, from, to gobreaker.State)
}

// Provider wraps next with a circuit breaker.
type Provider struct {
	next     pr.Provider
	cb       *gobreaker.CircuitBreaker
	failOpen bool
}

var _ pr.Provider = (*Provider)(nil)

func New(next pr.Provider, cfg Config) (*Provider, error) {
	if next == nil {
		return nil, errors.New("breaker: nil provider")
	}
	if cfg.Name == "" {
		cfg.Name = "cache"
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailRatio == 0 {
		cfg.FailRatio = 0.5
	}
	minReq, ratio := cfg.MinRequests, cfg.FailRatio

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minReq && float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Provider{next: next, cb: gobreaker.NewCircuitBreaker(st), failOpen: cfg.FailOpen}, nil
}

// State reports the breaker state.
func (p *Provider) State() gobreaker.State { return p.cb.State() }

type hit struct {
	b  []byte
	ok bool
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := p.cb.Execute(func() (any, error) {
		b, ok, err := p.next.Get(ctx, key)
		return hit{b, ok}, err
	})
	if err != nil {
		if p.failOpen {
			return nil, false, nil
		}
		return nil, false, err
	}
	h := res.(hit)
	return h.b, h.ok, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	res, err := p.cb.Execute(func() (any, error) {
		return p.next.Set(ctx, key, value, cost, ttl)
	})
	if err != nil {
		if p.failOpen {
			return false, nil
		}
		return false, err
	}
	return res.(bool), nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.next.Del(ctx, key)
	})
	return err
}

func (p *Provider) Close(ctx context.Context) error { return p.next.Close(ctx) }
