package flashsale

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/flashsale/codec"
	"github.com/unkn0wn-root/flashsale/internal/keys"
	"github.com/unkn0wn-root/flashsale/internal/wire"
	pr "github.com/unkn0wn-root/flashsale/provider"
)

// Loader reads id from the source of truth. found=false means the source
// confirmed the id does not exist; err means the source could not answer.
type Loader[V any] func(ctx context.Context, id string) (v V, found bool, err error)

type SetCostFunc func(storageKey string, raw []byte) int64

// CacheOptions tune a Cache. Entity, Provider, Codec and Locker are required;
// others have sensible defaults.
type CacheOptions[V any] struct {
	// Required
	Entity   string // key namespace, e.g. "shop" => cache:shop:<id>
	Provider pr.Provider
	Codec    c.Codec[V]
	Locker   Locker

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	TTL         time.Duration // value entries; 0 => 30m
	NegativeTTL time.Duration // not-found markers; 0 => 2m, must be < TTL
	TTLJitter   time.Duration // random extra TTL per write; 0 => none

	LockTTL          time.Duration // rebuild lock; 0 => 10s
	RetryInterval    time.Duration // first wait after losing the lock; 0 => 50ms
	MaxRetryInterval time.Duration // 0 => 500ms
	MaxRetries       int           // 0 => 20

	LogicalTTL     time.Duration // logical expiry of rebuilt entries; 0 => 30m
	RebuildPool    *RebuildPool  // nil => owned pool of 10 workers, queue 256
	RebuildTimeout time.Duration // per rebuild; 0 => 5s

	ComputeSetCost SetCostFunc      // default 1
	Now            func() time.Time // default time.Now
}

// Cache is a cache-aside layer for one entity type over a byte Provider.
// Each read picks its strategy:
//
//   - GetPassThrough caches not-found answers so absent ids stop reaching
//     the source (penetration).
//   - GetWithMutex lets one caller per key rebuild a miss while the rest wait
//     and re-read (breakdown).
//   - GetWithLogicalExpire never blocks on the source: stale entries are
//     served while one background rebuild refreshes them (hot keys).
type Cache[V any] struct {
	entity   string
	provider pr.Provider
	codec    c.Codec[V]
	locker   Locker
	log      Logger
	hooks    Hooks

	ttl         time.Duration
	negTTL      time.Duration
	jitter      time.Duration
	lockTTL     time.Duration
	retry       time.Duration
	maxRetry    time.Duration
	maxRetries  int
	logicalTTL  time.Duration
	rebuildTO   time.Duration
	computeCost SetCostFunc
	now         func() time.Time

	pool    *RebuildPool
	ownPool bool
	sf      singleflight.Group
}

func NewCache[V any](opts CacheOptions[V]) (*Cache[V], error) {
	if opts.Entity == "" {
		return nil, fmt.Errorf("flashsale: cache entity is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("flashsale: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("flashsale: codec is required")
	}
	if opts.Locker == nil {
		return nil, fmt.Errorf("flashsale: locker is required")
	}

	ch := &Cache[V]{
		entity:   opts.Entity,
		provider: opts.Provider,
		codec:    opts.Codec,
		locker:   opts.Locker,
		jitter:   opts.TTLJitter,
	}

	ch.log = coalesce[Logger](opts.Logger, NopLogger{})
	ch.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	ch.ttl = coalesce(opts.TTL, defaultCacheTTL)
	ch.negTTL = coalesce(opts.NegativeTTL, defaultNegativeTTL)
	ch.lockTTL = coalesce(opts.LockTTL, defaultLockTTL)
	ch.retry = coalesce(opts.RetryInterval, defaultRetryInterval)
	ch.maxRetry = coalesce(opts.MaxRetryInterval, defaultMaxRetryIntvl)
	ch.maxRetries = coalesce(opts.MaxRetries, defaultMaxRetries)
	ch.logicalTTL = coalesce(opts.LogicalTTL, defaultLogicalTTL)
	ch.rebuildTO = coalesce(opts.RebuildTimeout, defaultRebuildTimeout)

	switch {
	case ch.ttl < 0 || ch.negTTL < 0 || ch.jitter < 0 || ch.lockTTL < 0:
		return nil, fmt.Errorf("flashsale: cache durations must be >= 0")
	case ch.negTTL >= ch.ttl:
		return nil, fmt.Errorf("flashsale: negative ttl (%v) must be shorter than ttl (%v)", ch.negTTL, ch.ttl)
	case ch.maxRetry < ch.retry:
		return nil, fmt.Errorf("flashsale: max retry interval must be >= retry interval")
	}

	if opts.ComputeSetCost != nil {
		ch.computeCost = opts.ComputeSetCost
	} else {
		ch.computeCost = func(string, []byte) int64 { return 1 }
	}
	if opts.Now != nil {
		ch.now = opts.Now
	} else {
		ch.now = time.Now
	}
	if opts.RebuildPool != nil {
		ch.pool = opts.RebuildPool
	} else {
		ch.pool = NewRebuildPool(defaultRebuildWorkers, defaultRebuildQueue)
		ch.ownPool = true
	}
	return ch, nil
}

// Close waits for an owned rebuild pool to drain, then closes the provider.
func (ch *Cache[V]) Close(ctx context.Context) error {
	if ch.ownPool {
		ch.pool.Close()
	}
	return ch.provider.Close(ctx)
}

// GetPassThrough returns the cached value, loading on a miss. A not-found
// answer is cached as a short-lived marker and served without calling load.
func (ch *Cache[V]) GetPassThrough(ctx context.Context, id string, load Loader[V]) (V, bool, error) {
	k := keys.Cache(ch.entity, id)
	if v, found, hit, err := ch.lookup(ctx, k); err != nil || hit {
		return v, found, err
	}
	return ch.fill(ctx, id, k, load)
}

// GetWithMutex is GetPassThrough with rebuilds serialized per key: callers in
// this process collapse onto one flight, and across processes one holder of
// lock:<entity>:<id> loads while the others back off and re-read. When the
// retry budget is spent it returns ErrLockContended.
func (ch *Cache[V]) GetWithMutex(ctx context.Context, id string, load Loader[V]) (V, bool, error) {
	var zero V
	k := keys.Cache(ch.entity, id)
	if v, found, hit, err := ch.lookup(ctx, k); err != nil || hit {
		return v, found, err
	}

	res, err, _ := ch.sf.Do(k, func() (any, error) {
		v, found, err := ch.rebuildLocked(ctx, id, k, load)
		return loaded[V]{v: v, found: found}, err
	})
	if err != nil {
		return zero, false, err
	}
	r := res.(loaded[V])
	return r.v, r.found, nil
}

// GetWithLogicalExpire serves whatever is cached. Absent ids are reported as
// not found (entries are expected to be pre-warmed with
// SetWithLogicalExpire). A logically expired entry is returned as is and
// refreshed in the background by whoever wins the rebuild lock.
func (ch *Cache[V]) GetWithLogicalExpire(ctx context.Context, id string, load Loader[V]) (V, bool, error) {
	var zero V
	k := keys.Cache(ch.entity, id)
	e, hit, err := ch.read(ctx, k)
	if err != nil || !hit || e.Kind == wire.KindNegative {
		return zero, false, err
	}
	v, ok := ch.decode(ctx, k, e.Payload)
	if !ok {
		return zero, false, nil
	}
	if e.Stale(ch.now()) {
		ch.scheduleRebuild(ctx, id, k, load)
	}
	return v, true, nil
}

// Set writes v with a physical TTL (0 => default TTL).
func (ch *Cache[V]) Set(ctx context.Context, id string, v V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ch.ttl
	}
	payload, err := ch.codec.Encode(v)
	if err != nil {
		return err
	}
	return ch.put(ctx, keys.Cache(ch.entity, id), wire.EncodeValue(payload), ch.withJitter(ttl))
}

// SetWithLogicalExpire writes v without a physical TTL; it is considered
// stale expireAfter from now (0 => LogicalTTL).
func (ch *Cache[V]) SetWithLogicalExpire(ctx context.Context, id string, v V, expireAfter time.Duration) error {
	return ch.setLogical(ctx, keys.Cache(ch.entity, id), v, expireAfter)
}

// Invalidate deletes the entry for id.
func (ch *Cache[V]) Invalidate(ctx context.Context, id string) error {
	k := keys.Cache(ch.entity, id)
	if err := ch.provider.Del(ctx, k); err != nil {
		return err
	}
	ch.log.Debug("invalidated entry", Fields{"key": k})
	return nil
}

type loaded[V any] struct {
	v     V
	found bool
}

// read fetches and decodes the frame at k. Corrupt frames are deleted and
// reported as a miss.
func (ch *Cache[V]) read(ctx context.Context, k string) (wire.Entry, bool, error) {
	raw, ok, err := ch.provider.Get(ctx, k)
	if err != nil || !ok {
		return wire.Entry{}, false, err
	}
	e, err := wire.Decode(raw)
	if err != nil {
		ch.heal(ctx, k, "corrupt")
		return wire.Entry{}, false, nil
	}
	return e, true, nil
}

func (ch *Cache[V]) decode(ctx context.Context, k string, payload []byte) (V, bool) {
	v, err := ch.codec.Decode(payload)
	if err != nil {
		ch.heal(ctx, k, "value_decode")
		var zero V
		return zero, false
	}
	return v, true
}

func (ch *Cache[V]) heal(ctx context.Context, k, reason string) {
	_ = ch.provider.Del(ctx, k)
	ch.hooks.SelfHeal(k, reason)
}

// lookup reports hit=true when the cache answered, either with a value or
// with a not-found marker.
func (ch *Cache[V]) lookup(ctx context.Context, k string) (v V, found, hit bool, err error) {
	e, hit, err := ch.read(ctx, k)
	if err != nil || !hit {
		return v, false, false, err
	}
	if e.Kind == wire.KindNegative {
		return v, false, true, nil
	}
	v, ok := ch.decode(ctx, k, e.Payload)
	return v, ok, ok, nil
}

// fill loads id and caches the answer.
func (ch *Cache[V]) fill(ctx context.Context, id, k string, load Loader[V]) (V, bool, error) {
	var zero V
	v, found, err := load(ctx, id)
	if err != nil {
		return zero, false, err
	}
	if !found {
		if err := ch.put(ctx, k, wire.EncodeNegative(), ch.negTTL); err != nil {
			ch.log.Warn("negative marker write failed", Fields{"key": k, "err": err})
		}
		return zero, false, nil
	}
	payload, err := ch.codec.Encode(v)
	if err != nil {
		return zero, false, err
	}
	if err := ch.put(ctx, k, wire.EncodeValue(payload), ch.withJitter(ch.ttl)); err != nil {
		ch.log.Warn("cache write failed", Fields{"key": k, "err": err})
	}
	return v, true, nil
}

func (ch *Cache[V]) rebuildLocked(ctx context.Context, id, k string, load Loader[V]) (V, bool, error) {
	var zero V
	lockKey := keys.Lock(ch.entity, id)
	bo := newBackoff(ch.retry, ch.maxRetry, ch.maxRetries)
	defer bo.stop()

	for {
		lk, ok, err := ch.locker.Acquire(ctx, lockKey, ch.lockTTL)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return ch.fillUnder(ctx, lk, id, k, load)
		}
		ch.hooks.LockContended(lockKey)

		more, err := bo.wait(ctx)
		if err != nil {
			return zero, false, err
		}
		if !more {
			return zero, false, fmt.Errorf("%w: %s", ErrLockContended, lockKey)
		}
		// the holder may have filled it meanwhile
		if v, found, hit, err := ch.lookup(ctx, k); err != nil || hit {
			return v, found, err
		}
	}
}

func (ch *Cache[V]) fillUnder(ctx context.Context, lk Lock, id, k string, load Loader[V]) (V, bool, error) {
	defer ch.release(ctx, lk)
	if v, found, hit, err := ch.lookup(ctx, k); err != nil || hit {
		return v, found, err
	}
	return ch.fill(ctx, id, k, load)
}

func (ch *Cache[V]) scheduleRebuild(ctx context.Context, id, k string, load Loader[V]) {
	lockKey := keys.Lock(ch.entity, id)
	lk, ok, err := ch.locker.Acquire(ctx, lockKey, ch.lockTTL)
	if err != nil {
		ch.log.Warn("rebuild lock failed; serving stale", Fields{"key": lockKey, "err": err})
		return
	}
	if !ok {
		ch.hooks.LockContended(lockKey)
		return
	}

	bg := context.WithoutCancel(ctx)
	if !ch.pool.Submit(func() { ch.rebuildLogical(bg, lk, id, k, load) }) {
		ch.release(bg, lk)
		ch.hooks.RebuildDropped(k)
		ch.log.Warn("rebuild pool full; serving stale", Fields{"key": k})
		return
	}
	ch.hooks.RebuildScheduled(k)
}

func (ch *Cache[V]) rebuildLogical(parent context.Context, lk Lock, id, k string, load Loader[V]) {
	ctx, cancel := context.WithTimeout(parent, ch.rebuildTO)
	defer cancel()
	defer ch.release(parent, lk)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("flashsale: rebuild panic: %v", r)
			ch.hooks.RebuildFailed(k, err)
			ch.log.Error("rebuild panicked; keeping stale entry", Fields{"key": k, "err": err})
		}
	}()

	// another process may have refreshed it before this task ran
	if e, hit, err := ch.read(ctx, k); err == nil && hit && e.Kind == wire.KindLogical && !e.Stale(ch.now()) {
		return
	}

	v, found, err := load(ctx, id)
	if err != nil {
		ch.hooks.RebuildFailed(k, err)
		ch.log.Error("rebuild failed; keeping stale entry", Fields{"key": k, "err": err})
		return
	}
	if !found {
		ch.log.Warn("rebuild source has no row; keeping stale entry", Fields{"key": k})
		return
	}
	if err := ch.setLogical(ctx, k, v, 0); err != nil {
		ch.hooks.RebuildFailed(k, err)
		ch.log.Error("rebuild write failed", Fields{"key": k, "err": err})
	}
}

func (ch *Cache[V]) setLogical(ctx context.Context, k string, v V, expireAfter time.Duration) error {
	if expireAfter <= 0 {
		expireAfter = ch.logicalTTL
	}
	payload, err := ch.codec.Encode(v)
	if err != nil {
		return err
	}
	return ch.put(ctx, k, wire.EncodeLogical(payload, ch.now().Add(expireAfter)), 0)
}

func (ch *Cache[V]) put(ctx context.Context, k string, raw []byte, ttl time.Duration) error {
	ok, err := ch.provider.Set(ctx, k, raw, ch.computeCost(k, raw), ttl)
	if err != nil {
		return err
	}
	if !ok {
		ch.log.Debug("set rejected by provider (pressure)", Fields{"key": k})
	}
	return nil
}

func (ch *Cache[V]) release(ctx context.Context, lk Lock) {
	if _, err := ch.locker.Release(context.WithoutCancel(ctx), lk); err != nil {
		ch.log.Warn("lock release failed", Fields{"key": lk.Key, "err": err})
	}
}

func (ch *Cache[V]) withJitter(ttl time.Duration) time.Duration {
	if ch.jitter <= 0 {
		return ttl
	}
	return ttl + rand.N(ch.jitter)
}
