// Package keys builds every key flashsale writes to the shared store.
//
//	cache:<entity>:<id>             cached payloads
//	lock:<entity>:<id>              rebuild locks
//	lock:order:<userId>             per-user order locks
//	icr:<prefix>:<yyyy:MM:dd>       daily id sequences
//	seckill:{<voucherId>}:stock     remaining stock
//	seckill:{<voucherId>}:order     users that already ordered
//	seckill:{<voucherId>}:window    sale window (begin/end, unix ms)
//	seckill:{<voucherId>}:pending   admitted but unpersisted orders
//	seckill:vouchers                prepared voucher ids
//
// The sale keys of one voucher share a {voucherId} hash tag, so the
// admission script stays in a single Redis Cluster slot.
package keys

import (
	"strconv"
	"time"
)

const (
	cachePrefix = "cache:"
	lockPrefix  = "lock:"
	seqPrefix   = "icr:"
	salePrefix  = "seckill:{"

	// Vouchers is the set of voucher ids ever prepared; Recover walks their
	// pending hashes.
	Vouchers = "seckill:vouchers"

	dayLayout = "2006:01:02"
)

func Cache(entity, id string) string { return cachePrefix + entity + ":" + id }

func Lock(entity, id string) string { return lockPrefix + entity + ":" + id }

func OrderLock(userID int64) string { return Lock("order", strconv.FormatInt(userID, 10)) }

// Sequence returns the counter key for prefix on the UTC calendar day of t.
func Sequence(prefix string, t time.Time) string {
	return seqPrefix + prefix + ":" + t.UTC().Format(dayLayout)
}

func sale(voucherID int64, kind string) string {
	return salePrefix + strconv.FormatInt(voucherID, 10) + "}:" + kind
}

func Stock(voucherID int64) string { return sale(voucherID, "stock") }

func Ordered(voucherID int64) string { return sale(voucherID, "order") }

func Window(voucherID int64) string { return sale(voucherID, "window") }

// Pending is the hash of orderId -> "userId:voucherId" written by the
// admission script and cleared once the order row is durable.
func Pending(voucherID int64) string { return sale(voucherID, "pending") }
