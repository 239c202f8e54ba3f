package flashsale

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/flashsale/internal/keys"
)

// Voucher is a flash-sale item. Sales are open on [Begin, End); a zero bound
// leaves that side open.
type Voucher struct {
	ID    int64
	Stock int64
	Begin time.Time
	End   time.Time
}

func (v Voucher) validate() error {
	switch {
	case v.Stock < 0:
		return fmt.Errorf("flashsale: voucher %d: stock must be >= 0", v.ID)
	case !v.Begin.IsZero() && !v.End.IsZero() && !v.End.After(v.Begin):
		return fmt.Errorf("flashsale: voucher %d: end must be after begin", v.ID)
	}
	return nil
}

// AdmissionResult is the code returned by the admission script.
type AdmissionResult int

const (
	Admitted   AdmissionResult = 0
	SoldOut    AdmissionResult = 1
	Duplicate  AdmissionResult = 2
	NotStarted AdmissionResult = 3
	Ended      AdmissionResult = 4
)

func (r AdmissionResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case SoldOut:
		return "sold_out"
	case Duplicate:
		return "duplicate"
	case NotStarted:
		return "not_started"
	case Ended:
		return "ended"
	default:
		return "unknown(" + strconv.Itoa(int(r)) + ")"
	}
}

// Err maps a rejection to its sentinel; nil for Admitted.
func (r AdmissionResult) Err() error {
	switch r {
	case Admitted:
		return nil
	case SoldOut:
		return ErrSoldOut
	case Duplicate:
		return ErrDuplicateOrder
	case NotStarted:
		return ErrSaleNotStarted
	case Ended:
		return ErrSaleEnded
	default:
		return fmt.Errorf("flashsale: unexpected admission code %d", int(r))
	}
}

// KEYS: stock, ordered set, window hash, pending hash
// ARGV: voucherId, userId, orderId, now (unix ms)
const admitLua = `
if redis.call('exists', KEYS[3]) == 1 then
  local w = redis.call('hmget', KEYS[3], 'begin', 'end')
  local now = tonumber(ARGV[4])
  if w[1] and tonumber(w[1]) > 0 and now < tonumber(w[1]) then
    return 3
  end
  if w[2] and tonumber(w[2]) > 0 and now >= tonumber(w[2]) then
    return 4
  end
end
local stock = redis.call('get', KEYS[1])
if not stock or tonumber(stock) < 1 then
  return 1
end
if redis.call('sismember', KEYS[2], ARGV[2]) == 1 then
  return 2
end
redis.call('decr', KEYS[1])
redis.call('sadd', KEYS[2], ARGV[2])
redis.call('hset', KEYS[4], ARGV[3], ARGV[2] .. ':' .. ARGV[1])
return 0
`

// Gate runs the admission check (window, stock, one order per user) and the
// reservation (decrement, mark user, journal the order) as one server-side
// script, so no interleaving of concurrent requests can oversell.
type Gate struct {
	rdb    redis.UniversalClient
	script *redis.Script
	now    func() time.Time
}

// NewGate builds a gate; now == nil uses time.Now.
func NewGate(rdb redis.UniversalClient, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{rdb: rdb, script: redis.NewScript(admitLua), now: now}
}

// Admit reserves one unit of voucherID for userID under orderID.
// On Admitted the order is also recorded in the pending journal.
func (g *Gate) Admit(ctx context.Context, voucherID, userID, orderID int64) (AdmissionResult, error) {
	ks := []string{
		keys.Stock(voucherID),
		keys.Ordered(voucherID),
		keys.Window(voucherID),
		keys.Pending(voucherID),
	}
	code, err := g.script.Run(ctx, g.rdb, ks,
		voucherID, userID, orderID, g.now().UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("flashsale: admit voucher %d: %w", voucherID, err)
	}
	return AdmissionResult(code), nil
}

// Prepare seeds a sale: sets remaining stock, forgets previous buyers,
// writes the sale window and registers the voucher with the journal.
// Pending journal entries are left alone.
func (g *Gate) Prepare(ctx context.Context, v Voucher) error {
	if err := v.validate(); err != nil {
		return err
	}
	_, err := g.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keys.Stock(v.ID), v.Stock, 0)
		p.Del(ctx, keys.Ordered(v.ID), keys.Window(v.ID))
		if !v.Begin.IsZero() || !v.End.IsZero() {
			p.HSet(ctx, keys.Window(v.ID), "begin", unixMilli(v.Begin), "end", unixMilli(v.End))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flashsale: prepare voucher %d: %w", v.ID, err)
	}
	// separate command: the registry lives outside the voucher's slot
	if err := g.rdb.SAdd(ctx, keys.Vouchers, v.ID).Err(); err != nil {
		return fmt.Errorf("flashsale: register voucher %d: %w", v.ID, err)
	}
	return nil
}

// Stock returns the remaining stock of voucherID (0 when unseeded).
func (g *Gate) Stock(ctx context.Context, voucherID int64) (int64, error) {
	n, err := g.rdb.Get(ctx, keys.Stock(voucherID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
