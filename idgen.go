package flashsale

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/flashsale/counter"
	"github.com/unkn0wn-root/flashsale/internal/keys"
)

const (
	// DefaultIDEpoch is 2022-01-01T00:00:00Z.
	DefaultIDEpoch int64 = 1640995200

	seqBits = 32
	seqMax  = 1<<seqBits - 1
	tsMax   = 1<<31 - 1
)

// IDGenerator produces 63-bit ids: seconds since Epoch in the high bits and a
// per-day, per-prefix sequence in the low 32 bits. Ids are unique for as long
// as the counter keeps its state and roughly ordered by time.
type IDGenerator struct {
	counter counter.Counter
	epoch   int64
	now     func() time.Time
}

// NewIDGenerator builds a generator over c. epoch <= 0 uses DefaultIDEpoch;
// now == nil uses time.Now.
func NewIDGenerator(c counter.Counter, epoch int64, now func() time.Time) (*IDGenerator, error) {
	if c == nil {
		return nil, fmt.Errorf("flashsale: id counter is required")
	}
	if epoch <= 0 {
		epoch = DefaultIDEpoch
	}
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{counter: c, epoch: epoch, now: now}, nil
}

// Next returns a fresh id for prefix.
func (g *IDGenerator) Next(ctx context.Context, prefix string) (int64, error) {
	now := g.now()
	ts := now.Unix() - g.epoch
	if ts < 0 || ts > tsMax {
		return 0, fmt.Errorf("%w: timestamp %d outside id range", ErrSequenceExhausted, ts)
	}
	seq, err := g.counter.Incr(ctx, keys.Sequence(prefix, now))
	if err != nil {
		return 0, fmt.Errorf("flashsale: next id %q: %w", prefix, err)
	}
	if seq < 0 || seq > seqMax {
		return 0, fmt.Errorf("%w: prefix %q sequence %d", ErrSequenceExhausted, prefix, seq)
	}
	return ts<<seqBits | seq, nil
}

// SplitID returns the timestamp and sequence parts of an id built by Next.
func (g *IDGenerator) SplitID(id int64) (time.Time, int64) {
	return time.Unix(id>>seqBits+g.epoch, 0).UTC(), id & seqMax
}
