package main

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/flashsale"
)

type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// replayJournal calls Recover until the whole journal fits in the queue.
// The worker must already be running so a full queue drains between passes.
// Orders enqueued twice are deduplicated by the worker; the result counts
// every accepted enqueue.
func replayJournal(ctx context.Context, r recoverer, wait time.Duration, log flashsale.Logger) (int, error) {
	total := 0
	for {
		n, err := r.Recover(ctx)
		total += n
		if err == nil {
			return total, nil
		}
		if !errors.Is(err, flashsale.ErrQueueFull) {
			return total, err
		}
		log.Debug("journal replay waiting for the queue", flashsale.Fields{"queued": total})
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return total, ctx.Err()
		case <-t.C:
		}
	}
}
