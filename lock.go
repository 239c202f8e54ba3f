package flashsale

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a held distributed lock. Token identifies the holder; only the
// holder's Release deletes the key.
type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Locker is an advisory, non-blocking, expiring mutual-exclusion primitive.
// Acquire returns ok=false (and a nil error) when another holder owns key.
// Release returns ok=false when the lock expired or was taken over; that is
// not an error.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (l Lock, ok bool, err error)
	Release(ctx context.Context, l Lock) (ok bool, err error)
}

// compare-and-delete; runs atomically on the server.
const releaseLua = `
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
end
return 0
`

// RedisLocker implements Locker with SET NX PX and a Lua compare-and-delete.
type RedisLocker struct {
	rdb     redis.UniversalClient
	release *redis.Script
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb, release: redis.NewScript(releaseLua)}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	if ttl <= 0 {
		return Lock{}, false, fmt.Errorf("flashsale: lock ttl must be > 0")
	}
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return Lock{}, false, fmt.Errorf("flashsale: acquire %q: %w", key, err)
	}
	if !ok {
		return Lock{}, false, nil
	}
	return Lock{Key: key, Token: token, TTL: ttl}, true, nil
}

func (r *RedisLocker) Release(ctx context.Context, l Lock) (bool, error) {
	n, err := r.release.Run(ctx, r.rdb, []string{l.Key}, l.Token).Int64()
	if err != nil {
		return false, fmt.Errorf("flashsale: release %q: %w", l.Key, err)
	}
	return n == 1, nil
}

// backoff is a bounded exponential wait between lock attempts.
type backoff struct {
	next  time.Duration
	max   time.Duration
	left  int
	timer *time.Timer
}

func newBackoff(base, max time.Duration, tries int) *backoff {
	return &backoff{next: base, max: max, left: tries}
}

// wait sleeps for the current interval and doubles it (capped at max).
// It returns false when the retry budget is spent and ctx.Err() when
// cancelled first.
func (b *backoff) wait(ctx context.Context) (bool, error) {
	if b.left <= 0 {
		return false, nil
	}
	b.left--
	if b.timer == nil {
		b.timer = time.NewTimer(b.next)
	} else {
		b.timer.Reset(b.next)
	}
	select {
	case <-ctx.Done():
		b.timer.Stop()
		return false, ctx.Err()
	case <-b.timer.C:
	}
	if b.next *= 2; b.next > b.max {
		b.next = b.max
	}
	return true, nil
}

func (b *backoff) stop() {
	if b.timer != nil {
		b.timer.Stop()
	}
}
