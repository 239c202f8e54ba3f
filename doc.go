// Package flashsale implements a flash-sale order pipeline on top of Redis and
// a relational store, plus the cache-aside reads that sit in front of it.
//
// Components:
//   - Cache[V]: cache-aside over a byte Provider with three read strategies
//     (pass-through with not-found markers, mutex rebuild, logical expiry).
//   - Locker: advisory expiring lock (SET NX PX + compare-and-delete).
//   - IDGenerator: 63-bit ids, seconds since epoch << 32 | daily sequence.
//   - Gate: one Lua script checks the sale window, stock and one-order-per-user
//     and reserves the unit atomically.
//   - OrderQueue / OrderWorker: bounded queue drained by one worker that
//     persists each order under a per-user lock with CreateOrder.
//   - Journal: admitted-but-unpersisted orders kept in Redis for Recover.
//
// Keys:
//
//	cache:<entity>:<id>         cached entries
//	lock:<entity>:<id>          rebuild locks
//	lock:order:<userId>         per-user order locks
//	icr:<prefix>:<yyyy:MM:dd>   id sequences
//	seckill:{<id>}:stock        remaining stock
//	seckill:{<id>}:order        users who ordered
//	seckill:{<id>}:window       sale window
//	seckill:{<id>}:pending      order journal
//	seckill:vouchers            prepared vouchers
//
// The keys of one voucher share a hash tag, so the store may be a Redis
// Cluster.
//
// Flow:
//
//	svc, _ := flashsale.New(flashsale.Options{Redis: rdb, Orders: repo})
//	_ = svc.PrepareVoucher(ctx, flashsale.Voucher{ID: 7, Stock: 100})
//	_ = svc.Start(ctx)
//	_, _ = svc.Recover(ctx)
//	id, err := svc.Seckill(ctx, 7, userID) // errors.Is(err, flashsale.ErrSoldOut) ...
package flashsale
