package inventory_test

import (
	"context"
	"testing"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/memory"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T, stock, threshold int) (*inventory.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.AddProduct(orders.Product{ID: "P1", Name: "Kaos", PriceCents: 1000, Active: true}, stock, threshold)
	return &inventory.Service{UoW: st, Ledger: inventory.NewLedger(nil), Log: zap.NewNop()}, st
}

func TestAdjust_WritesLedgerRow(t *testing.T) {
	svc, _ := newService(t, 10, 2)
	ctx := context.Background()

	tx, err := svc.Adjust(ctx, inventory.AdjustInput{ProductID: "P1", Delta: 5, Type: inventory.TxStockIn, Notes: "restock", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 10, tx.PreviousStock)
	assert.Equal(t, 15, tx.CurrentStock)
	assert.Equal(t, "admin-1", tx.ActorID)

	tx, err = svc.Adjust(ctx, inventory.AdjustInput{ProductID: "P1", Delta: -3, Type: inventory.TxAdjustment, Notes: "stock opname"})
	require.NoError(t, err)
	assert.Equal(t, 12, tx.CurrentStock)

	rows, err := svc.History(ctx, "P1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3) // INITIAL + 2
	assert.Equal(t, inventory.TxAdjustment, rows[0].Type)
	assert.Equal(t, inventory.TxInitial, rows[2].Type)
	for i := 0; i+1 < len(rows); i++ {
		assert.Equal(t, rows[i+1].CurrentStock, rows[i].PreviousStock)
	}

	lvl, err := svc.CheckStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 12, lvl.Stock)
	assert.Equal(t, inventory.InStock, lvl.Status)
}

func TestAdjust_Rejects(t *testing.T) {
	svc, _ := newService(t, 3, 1)
	ctx := context.Background()

	cases := map[string]inventory.AdjustInput{
		"zero delta":         {ProductID: "P1", Delta: 0, Type: inventory.TxAdjustment},
		"negative stock in":  {ProductID: "P1", Delta: -1, Type: inventory.TxStockIn},
		"positive stock out": {ProductID: "P1", Delta: 1, Type: inventory.TxStockOut},
		"below zero":         {ProductID: "P1", Delta: -4, Type: inventory.TxStockOut},
		"order type":         {ProductID: "P1", Delta: 1, Type: inventory.TxOrderRestore},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Adjust(ctx, in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	_, err := svc.Adjust(ctx, inventory.AdjustInput{ProductID: "missing", Delta: 1, Type: inventory.TxStockIn})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	rows, err := svc.History(ctx, "P1", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "rejected adjustments leave the ledger alone")
}

func TestReserveAndRestore(t *testing.T) {
	st := memory.New()
	st.AddProduct(orders.Product{ID: "P1", Active: true}, 2, 0)
	m := metrics.New("test")
	l := inventory.NewLedger(m)
	ctx := context.Background()

	err := st.WithinStock(ctx, func(s inventory.Store) error {
		tx, err := l.Reserve(ctx, s, "P1", 2, "order-1")
		require.NoError(t, err)
		assert.Equal(t, inventory.TxOrderReserve, tx.Type)
		assert.Equal(t, 0, tx.CurrentStock)

		_, err = l.Reserve(ctx, s, "P1", 1, "order-2")
		assert.Equal(t, apperr.KindStockInsufficient, apperr.KindOf(err))

		tx, err = l.Restore(ctx, s, "P1", 2, "order-1")
		require.NoError(t, err)
		assert.Equal(t, 2, tx.CurrentStock)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues(string(inventory.TxOrderReserve))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues(string(inventory.TxOrderRestore))))
}

func TestStockStatus(t *testing.T) {
	assert.Equal(t, inventory.OutOfStock, inventory.StockRecord{Stock: 0, LowStockThreshold: 5}.Status())
	assert.Equal(t, inventory.LowStock, inventory.StockRecord{Stock: 5, LowStockThreshold: 5}.Status())
	assert.Equal(t, inventory.InStock, inventory.StockRecord{Stock: 6, LowStockThreshold: 5}.Status())
}

func TestSetThresholdAndReconcile(t *testing.T) {
	svc, _ := newService(t, 4, 1)
	ctx := context.Background()

	require.NoError(t, svc.SetThreshold(ctx, "P1", 4))
	lvl, err := svc.CheckStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, inventory.LowStock, lvl.Status)

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(svc.SetThreshold(ctx, "P1", -1)))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(svc.SetThreshold(ctx, "nope", 1)))

	d, err := svc.Reconcile(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, d.Drifted)
	assert.Equal(t, 4, d.LedgerStock)
}

func TestReconcile_DetectsDrift(t *testing.T) {
	svc, st := newService(t, 4, 1)
	ctx := context.Background()

	// stok diubah tanpa ledger, mensimulasikan update manual di database
	require.NoError(t, st.WithinStock(ctx, func(s inventory.Store) error {
		return s.SetStock(ctx, "P1", 9)
	}))
	d, err := svc.Reconcile(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, d.Drifted)
	assert.Equal(t, 9, d.LiveStock)
	assert.Equal(t, 4, d.LedgerStock)
}
