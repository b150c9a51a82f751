package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/google/uuid"
)

// AddProduct upserts a catalog product and, for a new product, writes the
// INITIAL ledger entry in the same transaction.
func (s *Store) AddProduct(ctx context.Context, p orders.Product, stock, threshold int) error {
	return s.WithinStock(ctx, func(st inventory.Store) error {
		tx := st.(stockRepo).tx
		ct, err := tx.Exec(ctx, `
			INSERT INTO products (id, sku, name, price_cents, images, active, stock, low_stock_threshold)
			VALUES ($1,$1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, p.PriceCents, p.Images, p.Active, stock, threshold)
		if err != nil || ct.RowsAffected() == 0 {
			return err
		}
		return st.AppendTransaction(ctx, inventory.Transaction{
			ID:            uuid.NewString(),
			ProductID:     p.ID,
			Type:          inventory.TxInitial,
			QuantityDelta: stock,
			PreviousStock: 0,
			CurrentStock:  stock,
			Notes:         "initial stock",
			CreatedAt:     time.Now().UTC(),
		})
	})
}

func (s *Store) AddAddress(ctx context.Context, a orders.Address) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO addresses (id, user_id, recipient, phone, line1, city, postal_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.UserID, a.Recipient, a.Phone, a.Line1, a.City, a.PostalCode)
	return err
}
