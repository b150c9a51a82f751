package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type change struct {
	order     *Order
	oldStatus Status
	oldPay    PaymentStatus
	notes     string
}

// Cancel restores the stock of every line and moves the order to cancelled.
// Only pending, confirmed and processing orders can be cancelled.
func (s *Service) Cancel(ctx context.Context, orderID string, actor Actor, reason string) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Cancel", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by customer"
	}
	var c change
	err = s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.lockOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		c = change{order: o, oldStatus: o.Status, oldPay: o.PaymentStatus, notes: reason}
		return s.cancelLocked(ctx, tx, o, actor.ID, reason)
	})
	if err != nil {
		return nil, err
	}
	origin := "user"
	if actor.Admin {
		origin = "admin"
	}
	s.afterCancel(ctx, c, origin)
	return c.order, nil
}

// cancelLocked runs inside the caller's transaction on a locked order.
func (s *Service) cancelLocked(ctx context.Context, tx Tx, o *Order, actorID, reason string) error {
	next, err := Next(o.Status, EventCancel)
	if err != nil {
		return err
	}
	items := append([]Item(nil), o.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	for _, it := range items {
		if _, err := s.ledger.Restore(ctx, tx.Stock(), it.ProductID, it.Quantity, o.ID); err != nil {
			return err
		}
	}
	o.Status = next
	o.CancelReason = reason
	if o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentChallenge {
		o.PaymentStatus = PaymentCancelled
	}
	o.UpdatedAt = s.now()
	if err := tx.Orders().UpdateState(ctx, o); err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	return tx.History().Append(ctx, s.historyRow(o, actorID, reason))
}

func (s *Service) afterCancel(ctx context.Context, c change, origin string) {
	o := c.order
	s.metrics.OrderCancelled(origin)
	s.metrics.Transition(string(c.oldStatus), string(o.Status))
	s.log.Info("order cancelled",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("origin", origin),
		zap.String("reason", o.CancelReason),
	)
	s.dispatch(ctx, o.UserID, EventOrderCancelled, o.ID, StatusChangedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OldStatus:   c.oldStatus,
		NewStatus:   o.Status,
		Notes:       o.CancelReason,
	})
	// sesi pembayaran yang masih terbuka ditutup di gateway, best effort
	if origin != "payment" && c.oldPay == PaymentPending && o.PaymentToken != "" && s.gateway != nil {
		s.inflight.Add(1)
		base := context.WithoutCancel(ctx)
		go func() {
			defer s.inflight.Done()
			ctx, cancel := context.WithTimeout(base, s.notifyTimeout)
			defer cancel()
			if err := s.gateway.Cancel(ctx, o.OrderNumber); err != nil {
				s.log.Warn("gateway cancel failed", zap.String("order_number", o.OrderNumber), zap.Error(err))
			}
		}()
	}
}

// Advance moves the order to newStatus through the transition table, writing
// the status and exactly one history row in the same transaction.
func (s *Service) Advance(ctx context.Context, orderID string, newStatus Status, actor Actor, meta Metadata) (_ *Order, err error) {
	if newStatus == StatusCancelled {
		return s.Cancel(ctx, orderID, actor, meta.Notes)
	}
	ctx, span := s.tracer.Start(ctx, "orders.Advance", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(newStatus)),
	))
	defer func() { endSpan(span, err) }()

	ev, ok := EventFor(newStatus)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("status %q cannot be set directly", newStatus))
	}
	return s.transition(ctx, orderID, ev, actor, meta)
}

// ConfirmDelivery lets the customer close a shipped order.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID string, actor Actor) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.ConfirmDelivery", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, orderID, EventDeliver, actor, Metadata{Notes: "Delivery confirmed"})
}

// AdminUpdateStatus is the back-office entry point; status arrives as text.
func (s *Service) AdminUpdateStatus(ctx context.Context, orderID, status, adminID string, meta Metadata) (*Order, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if st == StatusShipped && strings.TrimSpace(meta.TrackingNumber) == "" {
		return nil, apperr.Validation("tracking_number is required when shipping an order")
	}
	return s.Advance(ctx, orderID, st, Actor{ID: adminID, Admin: true}, meta)
}

func (s *Service) transition(ctx context.Context, orderID string, ev Event, actor Actor, meta Metadata) (*Order, error) {
	var c change
	err := s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.lockOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		next, err := Next(o.Status, ev)
		if err != nil {
			return err
		}
		notes := strings.TrimSpace(meta.Notes)
		if notes == "" {
			notes = fmt.Sprintf("Status changed to %s", next)
		}
		c = change{order: o, oldStatus: o.Status, oldPay: o.PaymentStatus, notes: notes}
		o.Status = next
		if next == StatusShipped && meta.TrackingNumber != "" {
			o.TrackingNumber = strings.TrimSpace(meta.TrackingNumber)
		}
		o.UpdatedAt = s.now()
		if err := tx.Orders().UpdateState(ctx, o); err != nil {
			return fmt.Errorf("update order %s: %w", o.ID, err)
		}
		return tx.History().Append(ctx, s.historyRow(o, actor.ID, notes))
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, c)
	return c.order, nil
}

func (s *Service) afterTransition(ctx context.Context, c change) {
	o := c.order
	s.metrics.Transition(string(c.oldStatus), string(o.Status))
	s.log.Info("order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(c.oldStatus)),
		zap.String("to", string(o.Status)),
	)
	s.dispatch(ctx, o.UserID, EventOrderStatusChanged, o.ID, StatusChangedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OldStatus:   c.oldStatus,
		NewStatus:   o.Status,
		Notes:       c.notes,
	})
}

func (s *Service) lockOrder(ctx context.Context, tx Tx, orderID string, actor Actor) (*Order, error) {
	o, err := tx.Orders().GetForUpdate(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	// order milik user lain diperlakukan sama dengan tidak ada
	if !actor.owns(o) {
		return nil, apperr.NotFound("order", orderID)
	}
	return o, nil
}
