// Package asynchook moves hook calls off the hot path: events go to a bounded
// queue served by a few workers and are dropped when the queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	svc, _ := flashsale.New(flashsale.Options{Redis: rdb, Orders: repo, Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/flashsale"
)

type Hooks struct {
	inner   flashsale.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ flashsale.Hooks = (*Hooks)(nil)

func New(inner flashsale.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close flushes queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed dispatcher.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)            { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) RebuildScheduled(k string)       { h.try(func() { h.inner.RebuildScheduled(k) }) }
func (h *Hooks) RebuildDropped(k string)         { h.try(func() { h.inner.RebuildDropped(k) }) }
func (h *Hooks) RebuildFailed(k string, e error) { h.try(func() { h.inner.RebuildFailed(k, e) }) }
func (h *Hooks) LockContended(k string)          { h.try(func() { h.inner.LockContended(k) }) }
func (h *Hooks) AdmissionRejected(v, u int64, r string) {
	h.try(func() { h.inner.AdmissionRejected(v, u, r) })
}
func (h *Hooks) EnqueueRejected(id int64, err error) {
	h.try(func() { h.inner.EnqueueRejected(id, err) })
}
func (h *Hooks) ReconcileAnomaly(o flashsale.Order, err error) {
	h.try(func() { h.inner.ReconcileAnomaly(o, err) })
}
func (h *Hooks) OrderPersisted(o flashsale.Order) { h.try(func() { h.inner.OrderPersisted(o) }) }
