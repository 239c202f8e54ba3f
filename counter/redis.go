package counter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares counters across processes and survives restarts.
// With a TTL, INCR and EXPIRE are pipelined in one round-trip, so keys for
// past days expire without a sweeper.
type Redis struct {
	rdb redis.UniversalClient
	ttl time.Duration // 0 disables expiry
}

var _ Counter = (*Redis)(nil)

// NewRedis creates a Redis-backed counter without TTL.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{rdb: client}
}

// NewRedisWithTTL creates a Redis-backed counter whose keys expire ttl after
// their last increment. If ttl <= 0, keys do not expire.
func NewRedisWithTTL(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ttl: ttl}
}

func (s *Redis) Incr(ctx context.Context, key string) (int64, error) {
	if s.ttl <= 0 {
		return s.rdb.Incr(ctx, key).Result()
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Cleanup is not applicable (Redis handles expiry if TTL is set).
func (s *Redis) Cleanup(time.Duration) {}

// Close is a no-op; the client is owned by the caller.
func (s *Redis) Close(context.Context) error { return nil }
