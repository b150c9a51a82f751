package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Store {
	s := New()
	s.AddProduct(orders.Product{ID: "P1", Name: "Kaos", PriceCents: 1000, Active: true}, 5, 1)
	s.AddAddress(orders.Address{ID: "A1", UserID: "U1"})
	return s
}

func TestWithin_RollbackOnError(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Within(ctx, func(ctx context.Context, tx orders.Tx) error {
		require.NoError(t, tx.Stock().SetStock(ctx, "P1", 0))
		require.NoError(t, tx.Orders().Insert(ctx, &orders.Order{ID: "o1", OrderNumber: "ORD-1", UserID: "U1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.WithinStock(ctx, func(st inventory.Store) error {
		rec, err := st.GetStock(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, 5, rec.Stock)
		return nil
	}))
	err = s.Within(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, err := tx.Orders().Get(ctx, "o1")
		return err
	})
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestWithin_NestedJoinsOuter(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	err := s.Within(ctx, func(ctx context.Context, outer orders.Tx) error {
		require.NoError(t, outer.Stock().SetStock(ctx, "P1", 2))
		// nested call harus melihat perubahan yang belum di-commit
		return s.WithinStock(ctx, func(st inventory.Store) error {
			rec, err := st.GetStock(ctx, "P1")
			require.NoError(t, err)
			assert.Equal(t, 2, rec.Stock)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestOrderRepo_DuplicateNumberKeepsTxUsable(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	err := s.Within(ctx, func(ctx context.Context, tx orders.Tx) error {
		require.NoError(t, tx.Orders().Insert(ctx, &orders.Order{ID: "o1", OrderNumber: "ORD-1", UserID: "U1"}))
		err := tx.Orders().Insert(ctx, &orders.Order{ID: "o2", OrderNumber: "ORD-1", UserID: "U1"})
		assert.ErrorIs(t, err, orders.ErrDuplicateOrderNumber)
		return tx.Orders().Insert(ctx, &orders.Order{ID: "o2", OrderNumber: "ORD-2", UserID: "U1"})
	})
	require.NoError(t, err)

	err = s.Within(ctx, func(ctx context.Context, tx orders.Tx) error {
		list, err := tx.Orders().ListByUser(ctx, "U1", 10)
		assert.Len(t, list, 2)
		return err
	})
	require.NoError(t, err)
}

func TestPaymentRepo_IdempotencyKey(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	err := s.Within(ctx, func(ctx context.Context, tx orders.Tx) error {
		p := tx.Payments()
		require.NoError(t, p.Insert(ctx, orders.PaymentRecord{ID: "r1", OrderID: "o1", GatewayTransactionID: "tx", GatewayStatus: "pending"}))
		require.NoError(t, p.Insert(ctx, orders.PaymentRecord{ID: "r2", OrderID: "o1", GatewayTransactionID: "tx", GatewayStatus: "settlement"}))
		assert.ErrorIs(t, p.Insert(ctx, orders.PaymentRecord{ID: "r3", OrderID: "o1", GatewayTransactionID: "tx", GatewayStatus: "settlement"}), orders.ErrDuplicatePayment)
		require.NoError(t, p.Insert(ctx, orders.PaymentRecord{ID: "r4", OrderID: "o1", GatewayTransactionID: "tx", GatewayStatus: "capture", FraudStatus: "challenge"}))
		require.NoError(t, p.Insert(ctx, orders.PaymentRecord{ID: "r5", OrderID: "o1", GatewayTransactionID: "tx", GatewayStatus: "capture", FraudStatus: "accept"}))

		got, err := p.Find(ctx, orders.PaymentKey{TransactionID: "tx", GatewayStatus: "settlement"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "r2", got.ID)

		accepted, err := p.Find(ctx, orders.PaymentKey{TransactionID: "tx", GatewayStatus: "capture", FraudStatus: "accept"})
		require.NoError(t, err)
		require.NotNil(t, accepted)
		assert.Equal(t, "r5", accepted.ID)

		none, err := p.Find(ctx, orders.PaymentKey{TransactionID: "tx", GatewayStatus: "expire"})
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestLookups(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	_, err := s.Catalog().Get(ctx, "P1")
	require.NoError(t, err)
	_, err = s.Catalog().Get(ctx, "P9")
	assert.ErrorIs(t, err, orders.ErrProductNotFound)

	_, err = s.Addresses().Get(ctx, "A1", "U1")
	require.NoError(t, err)
	_, err = s.Addresses().Get(ctx, "A1", "U2")
	assert.ErrorIs(t, err, orders.ErrAddressNotFound, "address of another user is invisible")
}
