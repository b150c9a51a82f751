package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PaymentNotification is a verified gateway notification already mapped to a
// canonical payment status.
type PaymentNotification struct {
	OrderNumber          string
	GatewayTransactionID string
	GatewayStatus        string
	FraudStatus          string
	Status               PaymentStatus
	Amount               int64
	RawPayload           []byte
}

func (n PaymentNotification) Key() PaymentKey {
	return PaymentKey{TransactionID: n.GatewayTransactionID, GatewayStatus: n.GatewayStatus, FraudStatus: n.FraudStatus}
}

type PaymentOutcome string

const (
	OutcomeApplied   PaymentOutcome = "applied"
	OutcomeDuplicate PaymentOutcome = "duplicate"
	OutcomeIgnored   PaymentOutcome = "ignored"
)

type PaymentResult struct {
	OrderID       string         `json:"order_id"`
	OrderNumber   string         `json:"order_number"`
	Status        Status         `json:"status"`
	PaymentStatus PaymentStatus  `json:"payment_status"`
	Outcome       PaymentOutcome `json:"outcome"`
	RecordID      string         `json:"record_id"`
}

// ApplyPayment applies a notification exactly once per PaymentKey.
// Redelivery returns the earlier result without writes.
func (s *Service) ApplyPayment(ctx context.Context, n PaymentNotification) (_ PaymentResult, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.ApplyPayment", trace.WithAttributes(
		attribute.String("order_number", n.OrderNumber),
		attribute.String("gateway_status", n.GatewayStatus),
		attribute.String("fraud_status", n.FraudStatus),
	))
	defer func() { endSpan(span, err) }()

	if n.OrderNumber == "" || n.GatewayTransactionID == "" {
		return PaymentResult{}, apperr.Validation("notification without order number or transaction id")
	}

	var (
		res       PaymentResult
		c         change
		cancelled bool
	)
	err = s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetByNumberForUpdate(ctx, n.OrderNumber)
		if errors.Is(err, ErrOrderNotFound) {
			return apperr.NotFound("order", n.OrderNumber)
		}
		if err != nil {
			return fmt.Errorf("lock order %s: %w", n.OrderNumber, err)
		}
		prior, err := tx.Payments().Find(ctx, n.Key())
		if err != nil {
			return fmt.Errorf("find payment %s: %w", n.GatewayTransactionID, err)
		}
		if prior != nil {
			res = resultOf(o, prior, OutcomeDuplicate)
			return nil
		}
		if n.Amount != 0 && n.Amount != o.Total {
			return apperr.Security("payment amount does not match order total").
				WithDetail("order_number", o.OrderNumber).
				WithDetail("expected", fmt.Sprint(o.Total)).
				WithDetail("received", fmt.Sprint(n.Amount))
		}

		rec := PaymentRecord{
			ID:                   uuid.NewString(),
			OrderID:              o.ID,
			GatewayTransactionID: n.GatewayTransactionID,
			GatewayStatus:        n.GatewayStatus,
			FraudStatus:          n.FraudStatus,
			Amount:               n.Amount,
			Status:               n.Status,
			RawPayload:           n.RawPayload,
			ReceivedAt:           s.now(),
		}
		if !CanTransitionPayment(o.PaymentStatus, n.Status) {
			// tetap dicatat untuk audit, tapi order tidak diubah
			rec.Ignored = true
			if err := tx.Payments().Insert(ctx, rec); err != nil {
				return err
			}
			res = resultOf(o, &rec, OutcomeIgnored)
			return nil
		}

		c = change{order: o, oldStatus: o.Status, oldPay: o.PaymentStatus}
		notes := fmt.Sprintf("Payment %s (%s)", n.GatewayStatus, n.GatewayTransactionID)
		o.PaymentStatus = n.Status
		switch n.Status {
		case PaymentPaid:
			if o.Status == StatusPending {
				if o.Status, err = Next(o.Status, EventConfirm); err != nil {
					return err
				}
			}
		case PaymentFailed, PaymentCancelled:
			if o.Status.Cancellable() {
				cancelled = true
				if err := s.cancelLocked(ctx, tx, o, SystemActor.ID, notes); err != nil {
					return err
				}
			}
		}
		if !cancelled {
			o.UpdatedAt = s.now()
			if err := tx.Orders().UpdateState(ctx, o); err != nil {
				return fmt.Errorf("update order %s: %w", o.ID, err)
			}
			if err := tx.History().Append(ctx, s.historyRow(o, SystemActor.ID, notes)); err != nil {
				return err
			}
		}
		c.notes = notes
		if err := tx.Payments().Insert(ctx, rec); err != nil {
			return err
		}
		res = resultOf(o, &rec, OutcomeApplied)
		return nil
	})
	if errors.Is(err, ErrDuplicatePayment) {
		// kalah balapan dengan delivery lain untuk key yang sama
		return s.priorPayment(ctx, n)
	}
	if err != nil {
		s.metrics.PaymentNotification("error_" + string(apperr.KindOf(err)))
		return PaymentResult{}, err
	}

	s.metrics.PaymentNotification(string(res.Outcome))
	log := s.log.With(
		zap.String("order_number", res.OrderNumber),
		zap.String("transaction_id", n.GatewayTransactionID),
		zap.String("gateway_status", n.GatewayStatus),
		zap.String("fraud_status", n.FraudStatus),
		zap.String("outcome", string(res.Outcome)),
	)
	switch res.Outcome {
	case OutcomeApplied:
		log.Info("payment notification applied", zap.String("payment_status", string(res.PaymentStatus)))
		if cancelled {
			s.afterCancel(ctx, c, "payment")
		} else if c.oldStatus != c.order.Status {
			s.afterTransition(ctx, c)
		}
		s.dispatch(ctx, c.order.UserID, EventPaymentStatusUpdate, c.order.ID, PaymentUpdatedPayload{
			OrderID:          c.order.ID,
			OrderNumber:      c.order.OrderNumber,
			OldPaymentStatus: c.oldPay,
			NewPaymentStatus: c.order.PaymentStatus,
			OldStatus:        c.oldStatus,
			NewStatus:        c.order.Status,
		})
	case OutcomeIgnored:
		log.Warn("payment notification ignored for current payment status", zap.String("payment_status", string(res.PaymentStatus)))
	default:
		log.Debug("duplicate payment notification")
	}
	return res, nil
}

func (s *Service) priorPayment(ctx context.Context, n PaymentNotification) (PaymentResult, error) {
	var res PaymentResult
	err := s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		prior, err := tx.Payments().Find(ctx, n.Key())
		if err != nil {
			return err
		}
		if prior == nil {
			return apperr.Invariant("payment record vanished after duplicate key conflict")
		}
		o, err := tx.Orders().Get(ctx, prior.OrderID)
		if err != nil {
			return err
		}
		res = resultOf(o, prior, OutcomeDuplicate)
		return nil
	})
	if err == nil {
		s.metrics.PaymentNotification(string(OutcomeDuplicate))
	}
	return res, err
}

func resultOf(o *Order, rec *PaymentRecord, outcome PaymentOutcome) PaymentResult {
	return PaymentResult{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Outcome:       outcome,
		RecordID:      rec.ID,
	}
}

// CreatePaymentSession opens a checkout session at the gateway. The gateway
// call runs outside any transaction; an existing session is reused.
func (s *Service) CreatePaymentSession(ctx context.Context, orderID string, actor Actor) (_ Session, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.CreatePaymentSession", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer func() { endSpan(span, err) }()

	if s.gateway == nil {
		return Session{}, apperr.ExternalService("payment gateway", errors.New("gateway not configured"))
	}
	o, err := s.Get(ctx, orderID, actor)
	if err != nil {
		return Session{}, err
	}
	if o.Status != StatusPending || (o.PaymentStatus != PaymentPending && o.PaymentStatus != PaymentChallenge) {
		return Session{}, apperr.StateTransition(string(o.Status), "awaiting_payment")
	}
	if o.PaymentToken != "" {
		return Session{Token: o.PaymentToken, RedirectURL: o.PaymentURL}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	sess, err := s.gateway.CreateSession(callCtx, *o)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.ExternalService("payment gateway", err)
		}
		s.log.Warn("payment session failed", zap.String("order_id", o.ID), zap.Error(err))
		return Session{}, err
	}

	err = s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := s.lockOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		if locked.PaymentToken != "" {
			sess = Session{Token: locked.PaymentToken, RedirectURL: locked.PaymentURL}
			return nil
		}
		locked.PaymentToken = sess.Token
		locked.PaymentURL = sess.RedirectURL
		locked.UpdatedAt = s.now()
		return tx.Orders().UpdateState(ctx, locked)
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}
