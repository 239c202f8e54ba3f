package flashsale

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Shop is the cached catalogue entity.
type Shop struct {
	ID        int64     `json:"id" msgpack:"id" cbor:"1,keyasint"`
	Name      string    `json:"name" msgpack:"name" cbor:"2,keyasint"`
	TypeID    int64     `json:"typeId" msgpack:"typeId" cbor:"3,keyasint"`
	Area      string    `json:"area" msgpack:"area" cbor:"4,keyasint"`
	Address   string    `json:"address" msgpack:"address" cbor:"5,keyasint"`
	X         float64   `json:"x" msgpack:"x" cbor:"6,keyasint"`
	Y         float64   `json:"y" msgpack:"y" cbor:"7,keyasint"`
	AvgPrice  int64     `json:"avgPrice" msgpack:"avgPrice" cbor:"8,keyasint"`
	Sold      int64     `json:"sold" msgpack:"sold" cbor:"9,keyasint"`
	Comments  int64     `json:"comments" msgpack:"comments" cbor:"10,keyasint"`
	Score     int64     `json:"score" msgpack:"score" cbor:"11,keyasint"`
	OpenHours string    `json:"openHours" msgpack:"openHours" cbor:"12,keyasint"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt" cbor:"13,keyasint"`
}

// ShopRepository is the source of truth for shops.
type ShopRepository interface {
	GetShop(ctx context.Context, id int64) (Shop, bool, error)
	UpdateShop(ctx context.Context, s Shop) error
}

// ReadStrategy selects how ShopService.Get uses the cache.
type ReadStrategy int

const (
	ReadPassThrough ReadStrategy = iota
	ReadMutex
	ReadLogicalExpire
)

func (r ReadStrategy) String() string {
	switch r {
	case ReadPassThrough:
		return "pass_through"
	case ReadMutex:
		return "mutex"
	case ReadLogicalExpire:
		return "logical_expire"
	default:
		return "unknown"
	}
}

// ParseReadStrategy accepts the names returned by String.
func ParseReadStrategy(s string) (ReadStrategy, error) {
	for _, r := range []ReadStrategy{ReadPassThrough, ReadMutex, ReadLogicalExpire} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("flashsale: unknown read strategy %q", s)
}

// ShopService reads shops through a Cache and keeps it coherent on update.
type ShopService struct {
	cache    *Cache[Shop]
	repo     ShopRepository
	strategy ReadStrategy
	load     Loader[Shop]
}

func NewShopService(cache *Cache[Shop], repo ShopRepository, strategy ReadStrategy) (*ShopService, error) {
	if cache == nil || repo == nil {
		return nil, fmt.Errorf("flashsale: shop service needs a cache and a repository")
	}
	s := &ShopService{cache: cache, repo: repo, strategy: strategy}
	s.load = func(ctx context.Context, id string) (Shop, bool, error) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return Shop{}, false, nil
		}
		return repo.GetShop(ctx, n)
	}
	return s, nil
}

func (s *ShopService) Get(ctx context.Context, id int64) (Shop, bool, error) {
	key := strconv.FormatInt(id, 10)
	switch s.strategy {
	case ReadMutex:
		return s.cache.GetWithMutex(ctx, key, s.load)
	case ReadLogicalExpire:
		return s.cache.GetWithLogicalExpire(ctx, key, s.load)
	default:
		return s.cache.GetPassThrough(ctx, key, s.load)
	}
}

// Update writes the store first and then drops the cached entry. Under the
// logical-expiry strategy the entry is rewritten instead, since those reads
// never fall back to the store.
func (s *ShopService) Update(ctx context.Context, shop Shop) error {
	if shop.ID <= 0 {
		return fmt.Errorf("flashsale: shop id must be > 0")
	}
	key := strconv.FormatInt(shop.ID, 10)
	if err := s.repo.UpdateShop(ctx, shop); err != nil {
		return &UpdateError{ID: key, StoreErr: err}
	}

	var err error
	if s.strategy == ReadLogicalExpire {
		err = s.cache.SetWithLogicalExpire(ctx, key, shop, 0)
	} else {
		err = s.cache.Invalidate(ctx, key)
	}
	if err != nil {
		return &UpdateError{ID: key, DelErr: err}
	}
	return nil
}

// Warm loads ids from the store into logical-expiry entries. Ids the store
// does not have are skipped and returned in missing.
func (s *ShopService) Warm(ctx context.Context, expireAfter time.Duration, ids ...int64) (missing []int64, err error) {
	for _, id := range ids {
		shop, found, err := s.repo.GetShop(ctx, id)
		if err != nil {
			return missing, fmt.Errorf("flashsale: warm shop %d: %w", id, err)
		}
		if !found {
			missing = append(missing, id)
			continue
		}
		if err := s.cache.SetWithLogicalExpire(ctx, strconv.FormatInt(id, 10), shop, expireAfter); err != nil {
			return missing, fmt.Errorf("flashsale: warm shop %d: %w", id, err)
		}
	}
	return missing, nil
}
