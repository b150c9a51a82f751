package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

const (
	orderNumberConstraint = "orders_order_number_key"
	orderIdemConstraint   = "orders_user_idempotency_key"
)

// nullIfEmpty maps "" to SQL NULL so the partial unique index skips it.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type orderRepo struct{ tx pgx.Tx }

// Insert writes the order and its items under a savepoint, so a clash on the
// order number only rolls back this attempt.
func (r orderRepo) Insert(ctx context.Context, o *orders.Order) error {
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	defer func() { _ = sp.Rollback(ctx) }()

	_, err = sp.Exec(ctx, `
		INSERT INTO orders
			(id, order_number, user_id, subtotal, tax, shipping_cost, discount, total,
			 status, payment_status, shipping_method, payment_method,
			 shipping_address, billing_address, notes, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		o.ID, o.OrderNumber, o.UserID, o.Subtotal, o.Tax, o.ShippingCost, o.Discount, o.Total,
		string(o.Status), string(o.PaymentStatus), o.ShippingMethod, o.PaymentMethod,
		o.ShippingAddress, o.BillingAddress, o.Notes, nullIfEmpty(o.IdempotencyKey), o.CreatedAt, o.UpdatedAt,
	)
	if isUniqueViolation(err, orderNumberConstraint) {
		return orders.ErrDuplicateOrderNumber
	}
	if isUniqueViolation(err, orderIdemConstraint) {
		return orders.ErrDuplicateIdemKey
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, product_id, name_snapshot, price_snapshot, quantity, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, o.ID, it.ProductID, it.NameSnapshot, it.PriceSnapshot, it.Quantity, it.Subtotal)
	}
	if err := sp.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return sp.Commit(ctx)
}

const orderColumns = `id, order_number, user_id, subtotal, tax, shipping_cost, discount, total,
	status, payment_status, shipping_method, payment_method, shipping_address, billing_address,
	notes, cancel_reason, tracking_number, COALESCE(idempotency_key, ''), payment_token, payment_url,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o           orders.Order
		status, pay string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Subtotal, &o.Tax, &o.ShippingCost, &o.Discount, &o.Total,
		&status, &pay, &o.ShippingMethod, &o.PaymentMethod, &o.ShippingAddress, &o.BillingAddress,
		&o.Notes, &o.CancelReason, &o.TrackingNumber, &o.IdempotencyKey, &o.PaymentToken, &o.PaymentURL,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(pay)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return &o, nil
}

func (r orderRepo) one(ctx context.Context, sql string, args ...any) (*orders.Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r orderRepo) items(ctx context.Context, orderID string) ([]orders.Item, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, order_id, product_id, name_snapshot, price_snapshot, quantity, subtotal
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	var out []orders.Item
	for rows.Next() {
		var it orders.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.NameSnapshot, &it.PriceSnapshot, &it.Quantity, &it.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r orderRepo) Get(ctx context.Context, id string) (*orders.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (r orderRepo) GetByNumberForUpdate(ctx context.Context, number string) (*orders.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1 FOR UPDATE`, number)
}

func (r orderRepo) FindByIdempotencyKey(ctx context.Context, userID, key string) (*orders.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key)
}

func (r orderRepo) ListByUser(ctx context.Context, userID string, limit int) ([]orders.Order, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+orderColumns+`
		FROM orders WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// items dibaca setelah rows ditutup; satu koneksi tidak bisa dua query sekaligus
	for i := range out {
		if out[i].Items, err = r.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r orderRepo) UpdateState(ctx context.Context, o *orders.Order) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, cancel_reason=$4, tracking_number=$5,
			payment_token=$6, payment_url=$7, updated_at=$8
		WHERE id=$1`,
		o.ID, string(o.Status), string(o.PaymentStatus), o.CancelReason, o.TrackingNumber,
		o.PaymentToken, o.PaymentURL, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

type historyRepo struct{ tx pgx.Tx }

func (r historyRepo) Append(ctx context.Context, h orders.StatusHistory) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, status, changed_by, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.OrderID, string(h.Status), h.ChangedBy, h.Notes, h.CreatedAt)
	return err
}

func (r historyRepo) List(ctx context.Context, orderID string) ([]orders.StatusHistory, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, order_id, status, changed_by, notes, created_at
		FROM order_status_history WHERE order_id=$1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []orders.StatusHistory
	for rows.Next() {
		var (
			h      orders.StatusHistory
			status string
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &status, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Status = orders.Status(status)
		h.CreatedAt = h.CreatedAt.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

const paymentKeyConstraint = "payment_records_gateway_key"

type paymentRepo struct{ tx pgx.Tx }

const paymentColumns = `id, order_id, gateway_transaction_id, gateway_status, fraud_status, amount, status, ignored, raw_payload, received_at`

func scanPayment(row pgx.Row) (orders.PaymentRecord, error) {
	var (
		p      orders.PaymentRecord
		status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.GatewayTransactionID, &p.GatewayStatus, &p.FraudStatus, &p.Amount, &status, &p.Ignored, &p.RawPayload, &p.ReceivedAt)
	p.Status = orders.PaymentStatus(status)
	p.ReceivedAt = p.ReceivedAt.UTC()
	return p, err
}

func (r paymentRepo) Find(ctx context.Context, key orders.PaymentKey) (*orders.PaymentRecord, error) {
	p, err := scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+`
		FROM payment_records
		WHERE gateway_transaction_id=$1 AND gateway_status=$2 AND fraud_status=$3`,
		key.TransactionID, key.GatewayStatus, key.FraudStatus))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Insert runs under a savepoint so a key clash keeps the transaction alive.
func (r paymentRepo) Insert(ctx context.Context, p orders.PaymentRecord) error {
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	defer func() { _ = sp.Rollback(ctx) }()
	_, err = sp.Exec(ctx, `
		INSERT INTO payment_records
			(id, order_id, gateway_transaction_id, gateway_status, fraud_status, amount, status, ignored, raw_payload, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.OrderID, p.GatewayTransactionID, p.GatewayStatus, p.FraudStatus, p.Amount, string(p.Status), p.Ignored, p.RawPayload, p.ReceivedAt)
	if isUniqueViolation(err, paymentKeyConstraint) {
		return orders.ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return sp.Commit(ctx)
}

func (r paymentRepo) ListByOrder(ctx context.Context, orderID string) ([]orders.PaymentRecord, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+paymentColumns+`
		FROM payment_records WHERE order_id=$1 ORDER BY received_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []orders.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
