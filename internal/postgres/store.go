package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is what pgxpool.Pool and pgx.Tx have in common.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ DB *pgxpool.Pool }

type txKey struct{}

// Within opens a READ COMMITTED transaction, or joins the one already in ctx.
// Row locks (FOR UPDATE) provide the serialization the order flow needs.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*pgTx); ok {
		return fn(ctx, tx)
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ptx := &pgTx{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, ptx), ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) WithinStock(ctx context.Context, fn func(inventory.Store) error) error {
	return s.Within(ctx, func(_ context.Context, tx orders.Tx) error {
		return fn(tx.Stock())
	})
}

// q returns the transaction carried by ctx, or the pool.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*pgTx); ok {
		return tx.tx
	}
	return s.DB
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Stock() inventory.Store { return stockRepo{t.tx} }

func (t *pgTx) Orders() orders.OrderRepository { return orderRepo{t.tx} }

func (t *pgTx) History() orders.HistoryRepository { return historyRepo{t.tx} }

func (t *pgTx) Payments() orders.PaymentRepository { return paymentRepo{t.tx} }

// Catalog and AddressBook read through the caller's transaction when present,
// so an order flow never needs a second pooled connection.
func (s *Store) Catalog() orders.Catalog { return catalog{s} }

func (s *Store) Addresses() orders.AddressBook { return addressBook{s} }

type catalog struct{ s *Store }

func (c catalog) Get(ctx context.Context, productID string) (orders.Product, error) {
	var p orders.Product
	err := c.s.q(ctx).QueryRow(ctx, `
		SELECT id, name, price_cents, images, active FROM products WHERE id=$1`, productID,
	).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Images, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, err
}

type addressBook struct{ s *Store }

func (a addressBook) Get(ctx context.Context, addressID, userID string) (orders.Address, error) {
	var addr orders.Address
	err := a.s.q(ctx).QueryRow(ctx, `
		SELECT id, user_id, recipient, phone, line1, city, postal_code
		FROM addresses WHERE id=$1 AND user_id=$2`, addressID, userID,
	).Scan(&addr.ID, &addr.UserID, &addr.Recipient, &addr.Phone, &addr.Line1, &addr.City, &addr.PostalCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Address{}, orders.ErrAddressNotFound
	}
	return addr, err
}
