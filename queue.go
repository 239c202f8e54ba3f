package flashsale

import (
	"context"
	"sync"
	"time"
)

// OrderQueue is the bounded FIFO between admission and the order worker.
// Enqueue never blocks longer than the enqueue timeout.
type OrderQueue struct {
	ch      chan Order
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewOrderQueue builds a queue; zero values use 65536 slots and a 50ms
// enqueue timeout.
func NewOrderQueue(capacity int, enqueueTimeout time.Duration) *OrderQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = defaultEnqueueTimeout
	}
	return &OrderQueue{ch: make(chan Order, capacity), timeout: enqueueTimeout}
}

// Enqueue hands o to the worker. It returns ErrQueueFull when no slot frees
// up within the timeout and ErrQueueClosed after Close.
func (q *OrderQueue) Enqueue(ctx context.Context, o Order) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- o:
		return nil
	default:
	}

	t := time.NewTimer(q.timeout)
	defer t.Stop()
	select {
	case q.ch <- o:
		return nil
	case <-t.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting orders. Orders already queued are still delivered.
// Safe to call multiple times.
func (q *OrderQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len is the number of queued orders.
func (q *OrderQueue) Len() int { return len(q.ch) }

// Cap is the fixed capacity.
func (q *OrderQueue) Cap() int { return cap(q.ch) }
