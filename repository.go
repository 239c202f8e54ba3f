package flashsale

import "context"

// Order is one admitted purchase. ID is the composite id reserved at admission.
type Order struct {
	ID        int64
	UserID    int64
	VoucherID int64
}

// OrderRepository opens transactions against the relational store.
type OrderRepository interface {
	Begin(ctx context.Context) (OrderTx, error)
}

// OrderTx is the transactional surface CreateOrder needs.
// Rollback after Commit must be a harmless no-op.
type OrderTx interface {
	// FindOrder returns the id of the existing order of userID for voucherID.
	FindOrder(ctx context.Context, userID, voucherID int64) (id int64, found bool, err error)
	// DecrementStock runs "stock = stock - 1 WHERE id = ? AND stock > 0" and
	// reports whether a row changed.
	DecrementStock(ctx context.Context, voucherID int64) (bool, error)
	InsertOrder(ctx context.Context, o Order) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// OrderPublisher announces committed orders (e.g. to Kafka). Best effort and
// at-least-once: failures are logged and never undo the commit, and a replayed
// order may be announced again.
type OrderPublisher interface {
	OrderCreated(ctx context.Context, o Order) error
}

type nopPublisher struct{}

func (nopPublisher) OrderCreated(context.Context, Order) error { return nil }

// CreateOrder is the persistence unit for one order, run inside tx.
// It is idempotent by id: replaying an already-committed order returns nil.
// A different order for the same user and voucher yields ErrOrderExists;
// a refused stock decrement yields ErrStockGuard. The caller owns tx.
func CreateOrder(ctx context.Context, tx OrderTx, o Order) error {
	existing, found, err := tx.FindOrder(ctx, o.UserID, o.VoucherID)
	if err != nil {
		return err
	}
	if found {
		if existing == o.ID {
			return nil
		}
		return ErrOrderExists
	}
	ok, err := tx.DecrementStock(ctx, o.VoucherID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStockGuard
	}
	return tx.InsertOrder(ctx, o)
}
