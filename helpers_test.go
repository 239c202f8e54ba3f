package flashsale

import (
	"context"
	"strconv"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/flashsale/provider"
)

type memEntry struct {
	v   []byte
	ttl time.Duration
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	getErr error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), ttl: ttl, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) entry(key string) (memEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e, ok
}

func (p *memProvider) put(key string, raw []byte) {
	p.mu.Lock()
	p.m[key] = memEntry{v: raw}
	p.mu.Unlock()
}

// memLocker is an in-process Locker with the same owner-token semantics as
// RedisLocker (expiry is ignored).
type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	seq   int
	err   error
	calls int
}

var _ Locker = (*memLocker)(nil)

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]string)} }

func (l *memLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return Lock{}, false, l.err
	}
	if _, busy := l.held[key]; busy {
		return Lock{}, false, nil
	}
	l.seq++
	tok := strconv.Itoa(l.seq)
	l.held[key] = tok
	return Lock{Key: key, Token: tok, TTL: ttl}, true, nil
}

func (l *memLocker) Release(_ context.Context, lk Lock) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[lk.Key] != lk.Token {
		return false, nil
	}
	delete(l.held, lk.Key)
	return true, nil
}

func (l *memLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// recHooks counts hook calls by name.
type recHooks struct {
	NopHooks
	mu sync.Mutex
	n  map[string]int
}

func newRecHooks() *recHooks { return &recHooks{n: make(map[string]int)} }

func (h *recHooks) inc(name string) {
	h.mu.Lock()
	h.n[name]++
	h.mu.Unlock()
}

func (h *recHooks) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n[name]
}

func (h *recHooks) SelfHeal(_, reason string)              { h.inc("self_heal:" + reason) }
func (h *recHooks) RebuildScheduled(string)                { h.inc("rebuild_scheduled") }
func (h *recHooks) RebuildDropped(string)                  { h.inc("rebuild_dropped") }
func (h *recHooks) RebuildFailed(string, error)            { h.inc("rebuild_failed") }
func (h *recHooks) LockContended(string)                   { h.inc("lock_contended") }
func (h *recHooks) AdmissionRejected(_, _ int64, r string) { h.inc("rejected:" + r) }
func (h *recHooks) EnqueueRejected(int64, error)           { h.inc("enqueue_rejected") }
func (h *recHooks) ReconcileAnomaly(Order, error)          { h.inc("anomaly") }
func (h *recHooks) OrderPersisted(Order)                   { h.inc("persisted") }

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
