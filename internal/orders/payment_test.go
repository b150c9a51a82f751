package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPayment_SettlementConfirmsOrder(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)

	res, err := f.svc.ApplyPayment(ctx, settlement(o, "tx-1"))
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeApplied, res.Outcome)
	assert.Equal(t, orders.StatusConfirmed, res.Status)
	assert.Equal(t, orders.PaymentPaid, res.PaymentStatus)

	hist, err := f.svc.History(ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
	pays, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, pays, 1)
	assert.Equal(t, res.RecordID, pays[0].ID)
	assert.Equal(t, 4, f.stock(t, "P1"), "paid must not touch stock")

	f.svc.Wait()
	assert.Contains(t, f.notifier.Events(), orders.EventPaymentStatusUpdate)
	assert.Contains(t, f.notifier.Events(), orders.EventOrderStatusChanged)
}

func TestApplyPayment_DuplicateIsNoop(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)

	first, err := f.svc.ApplyPayment(ctx, settlement(o, "tx-1"))
	require.NoError(t, err)
	again, err := f.svc.ApplyPayment(ctx, settlement(o, "tx-1"))
	require.NoError(t, err)

	assert.Equal(t, orders.OutcomeDuplicate, again.Outcome)
	assert.Equal(t, first.RecordID, again.RecordID)
	assert.Equal(t, first.Status, again.Status)

	hist, err := f.svc.History(ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
	pays, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, pays, 1)
}

func TestApplyPayment_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[orders.PaymentOutcome]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ApplyPayment(ctx, settlement(o, "tx-1"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[orders.OutcomeApplied])
	assert.Equal(t, 7, outcomes[orders.OutcomeDuplicate])
	hist, err := f.svc.History(ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestApplyPayment_PendingThenSettlement(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)

	pending := settlement(o, "tx-1")
	pending.GatewayStatus, pending.Status = "pending", orders.PaymentPending
	res, err := f.svc.ApplyPayment(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeApplied, res.Outcome)
	assert.Equal(t, orders.StatusPending, res.Status)

	res, err = f.svc.ApplyPayment(ctx, settlement(o, "tx-1"))
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeApplied, res.Outcome, "same transaction, new status")
	assert.Equal(t, orders.StatusConfirmed, res.Status)

	pays, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, pays, 2)
}

func TestApplyPayment_ChallengeThenAcceptConfirms(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)

	capture := settlement(o, "tx-cc")
	capture.GatewayStatus = "capture"
	capture.FraudStatus, capture.Status = "challenge", orders.PaymentChallenge
	res, err := f.svc.ApplyPayment(ctx, capture)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeApplied, res.Outcome)
	assert.Equal(t, orders.PaymentChallenge, res.PaymentStatus)
	assert.Equal(t, orders.StatusPending, res.Status)

	// transaksi dan transaction_status sama, hanya fraud_status yang berubah
	capture.FraudStatus, capture.Status = "accept", orders.PaymentPaid
	res, err = f.svc.ApplyPayment(ctx, capture)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeApplied, res.Outcome)
	assert.Equal(t, orders.PaymentPaid, res.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, res.Status)

	again, err := f.svc.ApplyPayment(ctx, capture)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeDuplicate, again.Outcome)
	assert.Equal(t, res.RecordID, again.RecordID)

	pays, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, pays, 2)
	assert.Equal(t, "challenge", pays[0].FraudStatus)
	assert.Equal(t, "accept", pays[1].FraudStatus)
}

func TestApplyPayment_FailureCancelsAndRestoresStock(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq(orders.LineInput{ProductID: "P1", Quantity: 2}))
	require.NoError(t, err)
	require.Equal(t, 3, f.stock(t, "P1"))

	deny := settlement(o, "tx-9")
	deny.GatewayStatus, deny.Status = "deny", orders.PaymentFailed
	res, err := f.svc.ApplyPayment(ctx, deny)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, res.Status)
	assert.Equal(t, orders.PaymentFailed, res.PaymentStatus)
	assert.Equal(t, 5, f.stock(t, "P1"))
	f.requireLedgerConsistent(t, "P1")

	hist, err := f.svc.History(ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Len(t, hist, 2, "cancel path writes exactly one history row")
	assert.Equal(t, orders.SystemActor.ID, hist[1].ChangedBy)

	f.svc.Wait()
	assert.Empty(t, f.gateway.Cancelled(), "gateway already knows the payment failed")
}

func TestApplyPayment_ExpireAfterPaidIsIgnored(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)
	_, err = f.svc.ApplyPayment(ctx, settlement(o, "tx-1"))
	require.NoError(t, err)

	expire := settlement(o, "tx-1")
	expire.GatewayStatus, expire.Status = "expire", orders.PaymentCancelled
	res, err := f.svc.ApplyPayment(ctx, expire)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeIgnored, res.Outcome)
	assert.Equal(t, orders.StatusConfirmed, res.Status)
	assert.Equal(t, orders.PaymentPaid, res.PaymentStatus)
	assert.Equal(t, 4, f.stock(t, "P1"))

	pays, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, pays, 2)
	assert.True(t, pays[1].Ignored)
	hist, err := f.svc.History(ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestApplyPayment_Rejections(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)

	unknown := settlement(o, "tx-1")
	unknown.OrderNumber = "ORD-19990101-DEADBEEF"
	_, err = f.svc.ApplyPayment(ctx, unknown)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	wrongAmount := settlement(o, "tx-1")
	wrongAmount.Amount = 1000
	_, err = f.svc.ApplyPayment(ctx, wrongAmount)
	assert.Equal(t, apperr.KindSecurity, apperr.KindOf(err))

	noTx := settlement(o, "")
	_, err = f.svc.ApplyPayment(ctx, noTx)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	pays, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, pays)
	got, err := f.svc.Get(ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestCreatePaymentSession_GatewayDown(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)

	f.gateway.err = errors.New("connection refused")
	_, err = f.svc.CreatePaymentSession(ctx, o.ID, customer)
	assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))

	got, err := f.svc.Get(ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Empty(t, got.PaymentToken)
}

func TestCreatePaymentSession_RequiresUnpaidOrder(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, orderReq())
	require.NoError(t, err)
	_, err = f.svc.ApplyPayment(ctx, settlement(o, "tx-1"))
	require.NoError(t, err)

	_, err = f.svc.CreatePaymentSession(ctx, o.ID, customer)
	assert.Equal(t, apperr.KindStateTransition, apperr.KindOf(err))
}
