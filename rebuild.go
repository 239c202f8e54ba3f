package flashsale

import (
	"sync"
	"sync/atomic"
)

// RebuildPool runs logical-expiry rebuilds on a fixed set of workers behind a
// bounded queue. Submit never blocks: a full queue rejects the task.
// One pool may be shared by several caches.
type RebuildPool struct {
	q    chan func()
	wg   sync.WaitGroup
	mu   sync.RWMutex
	done bool

	panics atomic.Uint64
}

// NewRebuildPool starts workers goroutines; zero values use 10 workers and a
// queue of 256.
func NewRebuildPool(workers, qlen int) *RebuildPool {
	if workers <= 0 {
		workers = defaultRebuildWorkers
	}
	if qlen <= 0 {
		qlen = defaultRebuildQueue
	}
	p := &RebuildPool{q: make(chan func(), qlen)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for f := range p.q {
				p.run(f)
			}
		}()
	}
	return p
}

// run keeps the worker alive when a task panics.
func (p *RebuildPool) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
		}
	}()
	f()
}

// Panics counts tasks that panicked.
func (p *RebuildPool) Panics() uint64 { return p.panics.Load() }

// Submit queues f and reports whether it was accepted.
func (p *RebuildPool) Submit(f func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		return false
	}
	select {
	case p.q <- f:
		return true
	default: // full
		return false
	}
}

// Close stops accepting work and waits for queued rebuilds to finish.
func (p *RebuildPool) Close() {
	p.mu.Lock()
	if !p.done {
		p.done = true
		close(p.q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
