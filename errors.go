package flashsale

import (
	"errors"
	"fmt"
)

var (
	// Admission outcomes. Expected, never logged as failures.
	ErrSoldOut        = errors.New("flashsale: sold out")
	ErrDuplicateOrder = errors.New("flashsale: user already ordered this voucher")
	ErrSaleNotStarted = errors.New("flashsale: sale has not started")
	ErrSaleEnded      = errors.New("flashsale: sale has ended")

	// ErrLockContended is returned when a rebuild lock could not be taken
	// within the retry budget.
	ErrLockContended = errors.New("flashsale: lock contended")

	// Queue backpressure.
	ErrQueueFull   = errors.New("flashsale: order queue full")
	ErrQueueClosed = errors.New("flashsale: order queue closed")

	// Persistence anomalies: admission let through something the database refuses.
	ErrOrderExists = errors.New("flashsale: order already exists for user and voucher")
	ErrStockGuard  = errors.New("flashsale: stock guard rejected decrement")

	// ErrSequenceExhausted means the per-day counter or the timestamp no
	// longer fits the composite id layout.
	ErrSequenceExhausted = errors.New("flashsale: id sequence exhausted")
)

// UpdateError reports a write-invalidate update where the store write or the
// cache delete (or both) failed. A store error means nothing changed; a delete
// error alone means the row changed and readers may see the old entry until TTL.
type UpdateError struct {
	ID       string
	StoreErr error
	DelErr   error
}

func (e *UpdateError) Error() string {
	switch {
	case e.StoreErr != nil && e.DelErr != nil:
		return fmt.Sprintf("update %q failed: store and cache delete failed: store=%v; delete=%v",
			e.ID, e.StoreErr, e.DelErr)
	case e.StoreErr != nil:
		return fmt.Sprintf("update %q: store write failed: %v", e.ID, e.StoreErr)
	case e.DelErr != nil:
		return fmt.Sprintf("update %q: cache delete failed: %v", e.ID, e.DelErr)
	default:
		return fmt.Sprintf("update %q: unknown error", e.ID)
	}
}

func (e *UpdateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
