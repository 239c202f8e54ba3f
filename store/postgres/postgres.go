// Package postgres is the relational store behind flashsale: vouchers with
// their authoritative stock, orders with a (user, voucher) uniqueness
// constraint, and shops.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/flashsale"
)

const schema = `
CREATE TABLE IF NOT EXISTS seckill_vouchers (
	voucher_id BIGINT PRIMARY KEY,
	stock      BIGINT NOT NULL CHECK (stock >= 0),
	begin_time TIMESTAMPTZ,
	end_time   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS voucher_orders (
	id         BIGINT PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	voucher_id BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, voucher_id)
);
CREATE TABLE IF NOT EXISTS shops (
	id         BIGINT PRIMARY KEY,
	name       TEXT NOT NULL,
	type_id    BIGINT NOT NULL DEFAULT 0,
	area       TEXT NOT NULL DEFAULT '',
	address    TEXT NOT NULL DEFAULT '',
	x          DOUBLE PRECISION NOT NULL DEFAULT 0,
	y          DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_price  BIGINT NOT NULL DEFAULT 0,
	sold       BIGINT NOT NULL DEFAULT 0,
	comments   BIGINT NOT NULL DEFAULT 0,
	score      BIGINT NOT NULL DEFAULT 0,
	open_hours TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const (
	qFindOrder = `SELECT id FROM voucher_orders WHERE user_id = $1 AND voucher_id = $2`
	qDecStock  = `UPDATE seckill_vouchers SET stock = stock - 1 WHERE voucher_id = $1 AND stock > 0`
	qInsOrder  = `INSERT INTO voucher_orders (id, user_id, voucher_id) VALUES ($1, $2, $3)`
	qGetShop   = `SELECT id, name, type_id, area, address, x, y, avg_price, sold, comments, score, open_hours, updated_at
	              FROM shops WHERE id = $1`
	qUpdShop = `UPDATE shops SET name = $2, type_id = $3, area = $4, address = $5, x = $6, y = $7,
	              avg_price = $8, sold = $9, comments = $10, score = $11, open_hours = $12, updated_at = now()
	            WHERE id = $1`
	qUpsertVoucher = `INSERT INTO seckill_vouchers (voucher_id, stock, begin_time, end_time) VALUES ($1, $2, $3, $4)
	                  ON CONFLICT (voucher_id) DO UPDATE SET stock = EXCLUDED.stock,
	                    begin_time = EXCLUDED.begin_time, end_time = EXCLUDED.end_time`
)

// ErrShopNotFound is returned by UpdateShop when no row matched.
var ErrShopNotFound = errors.New("postgres: shop not found")

// dbtx is the part of pgx the queries need; satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ flashsale.OrderRepository = (*Store)(nil)
	_ flashsale.ShopRepository  = (*Store)(nil)
)

// Open connects to dsn and pings the server.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// UpsertVoucher writes the authoritative stock and window of v.
func (s *Store) UpsertVoucher(ctx context.Context, v flashsale.Voucher) error {
	_, err := s.pool.Exec(ctx, qUpsertVoucher, v.ID, v.Stock, nullTime(v.Begin), nullTime(v.End))
	return err
}

func (s *Store) Begin(ctx context.Context) (flashsale.OrderTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &orderTx{q: tx, tx: tx}, nil
}

func (s *Store) GetShop(ctx context.Context, id int64) (flashsale.Shop, bool, error) {
	return getShop(ctx, s.pool, id)
}

func (s *Store) UpdateShop(ctx context.Context, shop flashsale.Shop) error {
	return updateShop(ctx, s.pool, shop)
}

type orderTx struct {
	q  dbtx
	tx interface {
		Commit(context.Context) error
		Rollback(context.Context) error
	}
}

func (t *orderTx) FindOrder(ctx context.Context, userID, voucherID int64) (int64, bool, error) {
	var id int64
	err := t.q.QueryRow(ctx, qFindOrder, userID, voucherID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *orderTx) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	tag, err := t.q.Exec(ctx, qDecStock, voucherID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, o flashsale.Order) error {
	_, err := t.q.Exec(ctx, qInsOrder, o.ID, o.UserID, o.VoucherID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%w: %s", flashsale.ErrOrderExists, pgErr.ConstraintName)
	}
	return err
}

func (t *orderTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

// Rollback after Commit is a no-op.
func (t *orderTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func getShop(ctx context.Context, q dbtx, id int64) (flashsale.Shop, bool, error) {
	var s flashsale.Shop
	err := q.QueryRow(ctx, qGetShop, id).Scan(
		&s.ID, &s.Name, &s.TypeID, &s.Area, &s.Address, &s.X, &s.Y,
		&s.AvgPrice, &s.Sold, &s.Comments, &s.Score, &s.OpenHours, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return flashsale.Shop{}, false, nil
	}
	if err != nil {
		return flashsale.Shop{}, false, err
	}
	return s, true, nil
}

func updateShop(ctx context.Context, q dbtx, s flashsale.Shop) error {
	tag, err := q.Exec(ctx, qUpdShop, s.ID, s.Name, s.TypeID, s.Area, s.Address, s.X, s.Y,
		s.AvgPrice, s.Sold, s.Comments, s.Score, s.OpenHours)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrShopNotFound, s.ID)
	}
	return nil
}
