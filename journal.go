package flashsale

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/flashsale/internal/keys"
)

// Journal is the store-resident record of admitted orders that are not yet
// durable. The admission script writes one pending hash per voucher; the
// worker clears an entry after commit; Recover replays whatever is left
// after a crash. Vouchers are found through the set Gate.Prepare fills.
type Journal struct {
	rdb redis.UniversalClient
}

func NewJournal(rdb redis.UniversalClient) *Journal { return &Journal{rdb: rdb} }

// MalformedEntry is a pending field that could not be parsed.
type MalformedEntry struct {
	VoucherID int64
	Field     string
}

// Pending returns every journalled order in ascending id order.
// Malformed entries are skipped and reported in bad.
func (j *Journal) Pending(ctx context.Context) (orders []Order, bad []MalformedEntry, err error) {
	members, err := j.rdb.SMembers(ctx, keys.Vouchers).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("flashsale: read voucher set: %w", err)
	}
	for _, mem := range members {
		vid, err := strconv.ParseInt(mem, 10, 64)
		if err != nil {
			continue
		}
		m, err := j.rdb.HGetAll(ctx, keys.Pending(vid)).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("flashsale: read pending journal of voucher %d: %w", vid, err)
		}
		for field, val := range m {
			o, ok := parsePending(field, val)
			if !ok || o.VoucherID != vid {
				bad = append(bad, MalformedEntry{VoucherID: vid, Field: field})
				continue
			}
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(a, b int) bool { return orders[a].ID < orders[b].ID })
	sort.Slice(bad, func(a, b int) bool {
		if bad[a].VoucherID != bad[b].VoucherID {
			return bad[a].VoucherID < bad[b].VoucherID
		}
		return bad[a].Field < bad[b].Field
	})
	return orders, bad, nil
}

// Ack removes o from the journal.
func (j *Journal) Ack(ctx context.Context, o Order) error {
	if err := j.rdb.HDel(ctx, keys.Pending(o.VoucherID), strconv.FormatInt(o.ID, 10)).Err(); err != nil {
		return fmt.Errorf("flashsale: ack order %d: %w", o.ID, err)
	}
	return nil
}

// Drop removes malformed entries.
func (j *Journal) Drop(ctx context.Context, entries ...MalformedEntry) error {
	byVoucher := make(map[int64][]string)
	for _, e := range entries {
		byVoucher[e.VoucherID] = append(byVoucher[e.VoucherID], e.Field)
	}
	for vid, fields := range byVoucher {
		if err := j.rdb.HDel(ctx, keys.Pending(vid), fields...).Err(); err != nil {
			return fmt.Errorf("flashsale: drop journal entries of voucher %d: %w", vid, err)
		}
	}
	return nil
}

// "userId:voucherId"
func parsePending(field, val string) (Order, bool) {
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return Order{}, false
	}
	u, v, ok := strings.Cut(val, ":")
	if !ok {
		return Order{}, false
	}
	uid, err1 := strconv.ParseInt(u, 10, 64)
	vid, err2 := strconv.ParseInt(v, 10, 64)
	if err1 != nil || err2 != nil {
		return Order{}, false
	}
	return Order{ID: id, UserID: uid, VoucherID: vid}, true
}
