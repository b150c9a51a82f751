package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/jackc/pgx/v5"
)

type stockRepo struct{ tx pgx.Tx }

// LockStock: lock row produk (FOR UPDATE) sampai transaksi selesai.
func (r stockRepo) LockStock(ctx context.Context, productID string) (inventory.StockRecord, error) {
	return r.scanStock(ctx, `SELECT id, stock, low_stock_threshold FROM products WHERE id=$1 FOR UPDATE`, productID)
}

func (r stockRepo) GetStock(ctx context.Context, productID string) (inventory.StockRecord, error) {
	return r.scanStock(ctx, `SELECT id, stock, low_stock_threshold FROM products WHERE id=$1`, productID)
}

func (r stockRepo) scanStock(ctx context.Context, sql, productID string) (inventory.StockRecord, error) {
	var rec inventory.StockRecord
	err := r.tx.QueryRow(ctx, sql, productID).Scan(&rec.ProductID, &rec.Stock, &rec.LowStockThreshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.StockRecord{}, inventory.ErrProductNotFound
	}
	return rec, err
}

func (r stockRepo) SetStock(ctx context.Context, productID string, stock int) error {
	ct, err := r.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=now() WHERE id=$1`, productID, stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (r stockRepo) SetThreshold(ctx context.Context, productID string, threshold int) error {
	ct, err := r.tx.Exec(ctx, `UPDATE products SET low_stock_threshold=$2, updated_at=now() WHERE id=$1`, productID, threshold)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (r stockRepo) AppendTransaction(ctx context.Context, t inventory.Transaction) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO inventory_transactions
			(id, product_id, type, quantity_delta, previous_stock, current_stock, actor_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)`,
		t.ID, t.ProductID, string(t.Type), t.QuantityDelta, t.PreviousStock, t.CurrentStock, t.ActorID, t.Notes, t.CreatedAt,
	)
	return err
}

const ledgerColumns = `id, product_id, type, quantity_delta, previous_stock, current_stock, COALESCE(actor_id,''), notes, created_at`

func (r stockRepo) LatestTransaction(ctx context.Context, productID string) (*inventory.Transaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+`
		FROM inventory_transactions WHERE product_id=$1 ORDER BY seq DESC LIMIT 1`, productID)
	if err != nil {
		return nil, err
	}
	out, err := scanLedger(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (r stockRepo) ListTransactions(ctx context.Context, productID string, limit int) ([]inventory.Transaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+`
		FROM inventory_transactions WHERE product_id=$1 ORDER BY seq DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	return scanLedger(rows)
}

func scanLedger(rows pgx.Rows) ([]inventory.Transaction, error) {
	defer rows.Close()
	var out []inventory.Transaction
	for rows.Next() {
		var (
			t   inventory.Transaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.ProductID, &typ, &t.QuantityDelta, &t.PreviousStock, &t.CurrentStock, &t.ActorID, &t.Notes, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = inventory.TxType(typ)
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
