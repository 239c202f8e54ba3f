// Package memory is an in-process store for drills and tests. Transactions
// are serialized by a single mutex and buffer their writes until Commit.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/flashsale"
)

var ErrTxDone = errors.New("memory: transaction already finished")

type orderKey struct{ user, voucher int64 }

type Store struct {
	txMu sync.Mutex // held for the lifetime of a transaction

	mu     sync.RWMutex
	stock  map[int64]int64
	orders map[orderKey]flashsale.Order
	shops  map[int64]flashsale.Shop
}

var (
	_ flashsale.OrderRepository = (*Store)(nil)
	_ flashsale.ShopRepository  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		stock:  make(map[int64]int64),
		orders: make(map[orderKey]flashsale.Order),
		shops:  make(map[int64]flashsale.Shop),
	}
}

func (s *Store) UpsertVoucher(_ context.Context, v flashsale.Voucher) error {
	s.mu.Lock()
	s.stock[v.ID] = v.Stock
	s.mu.Unlock()
	return nil
}

// Stock returns the authoritative remaining stock of a voucher.
func (s *Store) Stock(voucherID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stock[voucherID]
}

// Orders returns the number of persisted orders.
func (s *Store) Orders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) PutShop(shop flashsale.Shop) {
	s.mu.Lock()
	s.shops[shop.ID] = shop
	s.mu.Unlock()
}

func (s *Store) GetShop(_ context.Context, id int64) (flashsale.Shop, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shop, ok := s.shops[id]
	return shop, ok, nil
}

func (s *Store) UpdateShop(_ context.Context, shop flashsale.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shops[shop.ID]; !ok {
		return errors.New("memory: shop not found")
	}
	s.shops[shop.ID] = shop
	return nil
}

func (s *Store) Begin(ctx context.Context) (flashsale.OrderTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &tx{s: s, dec: make(map[int64]int64)}, nil
}

type tx struct {
	s    *Store
	done bool
	dec  map[int64]int64
	ins  []flashsale.Order
}

func (t *tx) FindOrder(_ context.Context, userID, voucherID int64) (int64, bool, error) {
	if t.done {
		return 0, false, ErrTxDone
	}
	for _, o := range t.ins {
		if o.UserID == userID && o.VoucherID == voucherID {
			return o.ID, true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	o, ok := t.s.orders[orderKey{userID, voucherID}]
	return o.ID, ok, nil
}

func (t *tx) DecrementStock(_ context.Context, voucherID int64) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	t.s.mu.RLock()
	left := t.s.stock[voucherID] - t.dec[voucherID]
	t.s.mu.RUnlock()
	if left <= 0 {
		return false, nil
	}
	t.dec[voucherID]++
	return true, nil
}

func (t *tx) InsertOrder(ctx context.Context, o flashsale.Order) error {
	_, found, err := t.FindOrder(ctx, o.UserID, o.VoucherID)
	if err != nil {
		return err
	}
	if found {
		return flashsale.ErrOrderExists
	}
	t.ins = append(t.ins, o)
	return nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.s.mu.Lock()
	for v, n := range t.dec {
		t.s.stock[v] -= n
	}
	for _, o := range t.ins {
		t.s.orders[orderKey{o.UserID, o.VoucherID}] = o
	}
	t.s.mu.Unlock()
	t.finish()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.s.txMu.Unlock()
}
