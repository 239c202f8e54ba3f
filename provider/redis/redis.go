package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/flashsale/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Redis keeps cache frames next to the sale keys, so every replica reads the
// same entries. A slow server during a sale is bounded by Config.OpTimeout.
type Redis struct {
	rdb     goredis.UniversalClient
	timeout time.Duration
	owns    bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client goredis.UniversalClient
	// OpTimeout caps each call on top of the caller's context; 0 => none.
	OpTimeout time.Duration
	// OwnsClient closes Client on Close. Leave false when the client is shared
	// with the locker and the admission gate.
	OwnsClient bool
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, timeout: cfg.OpTimeout, owns: cfg.OwnsClient}, nil
}

func (p *Redis) op(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := p.op(ctx)
	defer cancel()
	switch b, err := p.rdb.Get(ctx, key).Bytes(); {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	default:
		return b, true, nil
	}
}

// Set writes with PX precision; ttl <= 0 keeps the key until deleted.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	ctx, cancel := p.op(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Del unlinks the key so large frames are reclaimed off the main thread.
func (p *Redis) Del(ctx context.Context, key string) error {
	ctx, cancel := p.op(ctx)
	defer cancel()
	return p.rdb.Unlink(ctx, key).Err()
}

// Close is idempotent.
func (p *Redis) Close(context.Context) error {
	if !p.owns {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
