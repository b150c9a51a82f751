package payment

import (
	"context"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"go.uber.org/zap"
)

// Applier is the part of the order service the reconciler drives.
type Applier interface {
	ApplyPayment(ctx context.Context, n orders.PaymentNotification) (orders.PaymentResult, error)
}

// Deduper remembers processed idempotency keys outside the database. It is
// only a fast path; the payment_records unique key stays authoritative.
type Deduper interface {
	Lookup(ctx context.Context, key string) (*orders.PaymentResult, error)
	Remember(ctx context.Context, key string, res orders.PaymentResult) error
}

type Reconciler struct {
	gateway orders.Gateway
	orders  Applier
	dedup   Deduper
	log     *zap.Logger
}

// NewReconciler wires the verify-then-apply pipeline. dedup may be nil.
func NewReconciler(gw orders.Gateway, app Applier, dedup Deduper, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{gateway: gw, orders: app, dedup: dedup, log: log}
}

// IdempotencyKey identifies one gateway status of one transaction. The fraud
// status is included so a challenge resolved to accept is not a duplicate.
func IdempotencyKey(transactionID, gatewayStatus, fraudStatus string) string {
	return transactionID + ":" + gatewayStatus + ":" + fraudStatus
}

// Handle verifies a raw webhook body with the gateway, maps its status and
// applies it to the order. Verification happens before any transaction.
func (r *Reconciler) Handle(ctx context.Context, raw []byte) (orders.PaymentResult, error) {
	st, err := r.gateway.VerifyNotification(ctx, raw)
	if err != nil {
		r.log.Warn("payment notification rejected", zap.Error(err))
		return orders.PaymentResult{}, err
	}
	status, err := MapGatewayStatus(st.TransactionStatus, st.FraudStatus)
	if err != nil {
		return orders.PaymentResult{}, err
	}
	key := IdempotencyKey(st.TransactionID, st.TransactionStatus, st.FraudStatus)
	log := r.log.With(zap.String("order_number", st.OrderNumber), zap.String("key", key))

	if r.dedup != nil {
		prior, err := r.dedup.Lookup(ctx, key)
		if err != nil {
			// cache mati tidak boleh menghentikan pembayaran
			log.Warn("dedup lookup failed", zap.Error(err))
		} else if prior != nil {
			prior.Outcome = orders.OutcomeDuplicate
			log.Debug("payment notification served from dedup cache")
			return *prior, nil
		}
	}

	res, err := r.orders.ApplyPayment(ctx, orders.PaymentNotification{
		OrderNumber:          st.OrderNumber,
		GatewayTransactionID: st.TransactionID,
		GatewayStatus:        st.TransactionStatus,
		FraudStatus:          st.FraudStatus,
		Status:               status,
		Amount:               st.GrossAmount,
		RawPayload:           raw,
	})
	if err != nil {
		return orders.PaymentResult{}, fmt.Errorf("apply payment %s: %w", key, err)
	}
	if r.dedup != nil {
		if err := r.dedup.Remember(ctx, key, res); err != nil {
			log.Warn("dedup remember failed", zap.Error(err))
		}
	}
	return res, nil
}
