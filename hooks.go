package flashsale

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and the order pipeline call them on hot paths.
type Hooks interface {
	// A cached entry was deleted on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A logical-expiry rebuild was handed to the rebuild pool.
	RebuildScheduled(storageKey string)
	// The rebuild pool was full; the stale value stays until the next attempt.
	RebuildDropped(storageKey string)
	// A background rebuild returned an error.
	RebuildFailed(storageKey string, err error)

	// A non-blocking lock acquisition lost to another holder.
	LockContended(lockKey string)

	// The admission script refused a request.
	// reason ∈ {"sold_out", "duplicate", "not_started", "ended"}
	AdmissionRejected(voucherID, userID int64, reason string)

	// An admitted order could not be handed to the worker.
	EnqueueRejected(orderID int64, err error)

	// The worker found state that admission should have prevented
	// (ErrOrderExists, ErrStockGuard). The task is dropped.
	ReconcileAnomaly(o Order, err error)

	// An order row was committed.
	OrderPersisted(o Order)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                {}
func (NopHooks) RebuildScheduled(string)                {}
func (NopHooks) RebuildDropped(string)                  {}
func (NopHooks) RebuildFailed(string, error)            {}
func (NopHooks) LockContended(string)                   {}
func (NopHooks) AdmissionRejected(int64, int64, string) {}
func (NopHooks) EnqueueRejected(int64, error)           {}
func (NopHooks) ReconcileAnomaly(Order, error)          {}
func (NopHooks) OrderPersisted(Order)                   {}
