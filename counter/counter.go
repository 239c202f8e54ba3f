package counter

import (
	"context"
	"time"
)

// Counter hands out per-key monotonically increasing sequence numbers.
// Use Local for a single process, or Redis when several processes must share
// one sequence (the normal case for order ids).
type Counter interface {
	// Incr atomically increments key and returns the new value (first call => 1).
	Incr(ctx context.Context, key string) (int64, error)
	// Cleanup prunes keys untouched for longer than retention (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
