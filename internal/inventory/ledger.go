package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/google/uuid"
)

type TxType string

const (
	TxInitial      TxType = "INITIAL"
	TxStockIn      TxType = "STOCK_IN"
	TxStockOut     TxType = "STOCK_OUT"
	TxAdjustment   TxType = "ADJUSTMENT"
	TxOrderReserve TxType = "ORDER_RESERVE"
	TxOrderRestore TxType = "ORDER_RESTORE"
)

// Manual reports whether the type may be written through Adjust.
func (t TxType) Manual() bool {
	switch t {
	case TxInitial, TxStockIn, TxStockOut, TxAdjustment:
		return true
	}
	return false
}

type StockStatus string

const (
	InStock    StockStatus = "in_stock"
	LowStock   StockStatus = "low_stock"
	OutOfStock StockStatus = "out_of_stock"
)

type StockRecord struct {
	ProductID         string `json:"product_id"`
	Stock             int    `json:"stock"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

func (r StockRecord) Status() StockStatus {
	switch {
	case r.Stock <= 0:
		return OutOfStock
	case r.Stock <= r.LowStockThreshold:
		return LowStock
	default:
		return InStock
	}
}

type StockLevel struct {
	ProductID string      `json:"product_id"`
	Stock     int         `json:"stock"`
	Status    StockStatus `json:"status"`
}

// Transaction is one immutable ledger row.
type Transaction struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	Type          TxType    `json:"type"`
	QuantityDelta int       `json:"quantity_delta"`
	PreviousStock int       `json:"previous_stock"`
	CurrentStock  int       `json:"current_stock"`
	ActorID       string    `json:"actor_id,omitempty"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

var ErrProductNotFound = errors.New("inventory: product not found")

// Store is the stock persistence bound to one open unit of work.
// LockStock must hold the product row until the unit of work ends.
type Store interface {
	LockStock(ctx context.Context, productID string) (StockRecord, error)
	GetStock(ctx context.Context, productID string) (StockRecord, error)
	SetStock(ctx context.Context, productID string, stock int) error
	SetThreshold(ctx context.Context, productID string, threshold int) error
	AppendTransaction(ctx context.Context, t Transaction) error
	LatestTransaction(ctx context.Context, productID string) (*Transaction, error)
	ListTransactions(ctx context.Context, productID string, limit int) ([]Transaction, error)
}

// Ledger applies stock changes together with their ledger rows. It never opens
// a transaction itself: callers hand in the Store of their unit of work.
type Ledger struct {
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewLedger(m *metrics.Metrics) *Ledger {
	return &Ledger{Metrics: m, Now: func() time.Time { return time.Now().UTC() }}
}

// Reserve holds qty units against an order. Nothing is written when stock is short.
func (l *Ledger) Reserve(ctx context.Context, st Store, productID string, qty int, orderRef string) (Transaction, error) {
	if qty <= 0 {
		return Transaction{}, apperr.Validation("quantity must be greater than zero").WithDetail("product_id", productID)
	}
	rec, err := l.lock(ctx, st, productID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.Stock < qty {
		return Transaction{}, apperr.StockInsufficient(productID, qty, rec.Stock)
	}
	return l.apply(ctx, st, rec, -qty, TxOrderReserve, "reserved for order "+orderRef, "")
}

// Restore is the inverse of Reserve, used on cancellation and failed payments.
func (l *Ledger) Restore(ctx context.Context, st Store, productID string, qty int, orderRef string) (Transaction, error) {
	if qty <= 0 {
		return Transaction{}, apperr.Validation("quantity must be greater than zero").WithDetail("product_id", productID)
	}
	rec, err := l.lock(ctx, st, productID)
	if err != nil {
		return Transaction{}, err
	}
	return l.apply(ctx, st, rec, qty, TxOrderRestore, "restored from order "+orderRef, "")
}

// Adjust records a manual stock movement.
func (l *Ledger) Adjust(ctx context.Context, st Store, productID string, delta int, typ TxType, notes, actor string) (Transaction, error) {
	if !typ.Manual() {
		return Transaction{}, apperr.Validation(fmt.Sprintf("transaction type %s cannot be adjusted manually", typ))
	}
	switch {
	case delta == 0:
		return Transaction{}, apperr.Validation("quantity delta must not be zero")
	case typ == TxStockIn && delta < 0:
		return Transaction{}, apperr.Validation("STOCK_IN requires a positive delta")
	case typ == TxStockOut && delta > 0:
		return Transaction{}, apperr.Validation("STOCK_OUT requires a negative delta")
	}
	rec, err := l.lock(ctx, st, productID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.Stock+delta < 0 {
		return Transaction{}, apperr.Validation("adjustment would make stock negative").
			WithDetail("product_id", productID).
			WithDetail("available", fmt.Sprint(rec.Stock))
	}
	return l.apply(ctx, st, rec, delta, typ, notes, actor)
}

func (l *Ledger) CheckStock(ctx context.Context, st Store, productID string) (StockLevel, error) {
	rec, err := st.GetStock(ctx, productID)
	if errors.Is(err, ErrProductNotFound) {
		return StockLevel{}, apperr.NotFound("product", productID)
	}
	if err != nil {
		return StockLevel{}, fmt.Errorf("get stock %s: %w", productID, err)
	}
	return StockLevel{ProductID: productID, Stock: rec.Stock, Status: rec.Status()}, nil
}

func (l *Ledger) lock(ctx context.Context, st Store, productID string) (StockRecord, error) {
	rec, err := st.LockStock(ctx, productID)
	if errors.Is(err, ErrProductNotFound) {
		return StockRecord{}, apperr.NotFound("product", productID)
	}
	if err != nil {
		return StockRecord{}, fmt.Errorf("lock stock %s: %w", productID, err)
	}
	return rec, nil
}

// apply writes the new stock value and its ledger row. rec must be locked.
func (l *Ledger) apply(ctx context.Context, st Store, rec StockRecord, delta int, typ TxType, notes, actor string) (Transaction, error) {
	next := rec.Stock + delta
	if next < 0 {
		return Transaction{}, apperr.Invariant(fmt.Sprintf("stock of %s would become %d", rec.ProductID, next))
	}
	t := Transaction{
		ID:            uuid.NewString(),
		ProductID:     rec.ProductID,
		Type:          typ,
		QuantityDelta: delta,
		PreviousStock: rec.Stock,
		CurrentStock:  next,
		ActorID:       actor,
		Notes:         notes,
		CreatedAt:     l.Now(),
	}
	if err := st.SetStock(ctx, rec.ProductID, next); err != nil {
		return Transaction{}, fmt.Errorf("set stock %s: %w", rec.ProductID, err)
	}
	if err := st.AppendTransaction(ctx, t); err != nil {
		return Transaction{}, fmt.Errorf("append ledger %s: %w", rec.ProductID, err)
	}
	l.Metrics.StockAdjusted(string(typ))
	return t, nil
}
