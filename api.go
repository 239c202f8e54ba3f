package flashsale

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/flashsale/counter"
)

// Service is the flash-sale order pipeline: admission against the shared
// store, then asynchronous persistence by a single worker.
type Service interface {
	// Seckill reserves one unit of voucherID for userID and returns the order
	// id. Rejections come back as ErrSoldOut, ErrDuplicateOrder,
	// ErrSaleNotStarted or ErrSaleEnded. ErrQueueFull and ErrQueueClosed are
	// returned with the reserved id: the reservation stands in the journal
	// and is persisted by Recover.
	Seckill(ctx context.Context, voucherID, userID int64) (orderID int64, err error)

	// PrepareVoucher seeds stock and the sale window before a sale.
	PrepareVoucher(ctx context.Context, v Voucher) error

	// Start launches the order worker; ctx bounds its lifetime.
	Start(ctx context.Context) error

	// Recover re-enqueues journalled orders that were admitted but never
	// persisted and returns how many were queued.
	Recover(ctx context.Context) (int, error)

	// Close stops admission, lets the worker drain the queue and waits for it
	// (or for ctx).
	Close(ctx context.Context) error
}

// Options configure New. Only Redis and Orders are required.
type Options struct {
	// Required
	Redis  redis.UniversalClient
	Orders OrderRepository

	Publisher OrderPublisher // nil => no order events
	Logger    Logger         // if nil, NopLogger is used
	Hooks     Hooks          // if nil, NopHooks is used

	Counter  counter.Counter // id sequences; nil => counter.NewRedis(Redis)
	Locker   Locker          // nil => NewRedisLocker(Redis)
	IDPrefix string          // "" => "order"
	IDEpoch  int64           // unix seconds; 0 => 2022-01-01T00:00:00Z

	QueueCapacity    int           // 0 => 65536
	EnqueueTimeout   time.Duration // 0 => 50ms
	OrderLockTTL     time.Duration // 0 => 10s
	OrderLockRetries int           // 0 => 5

	Now func() time.Time // default time.Now
}

func New(opts Options) (Service, error) {
	return newService(opts)
}
