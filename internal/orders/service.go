package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxLinesPerOrder  = 100
	maxNotesLength    = 500
	maxIdemKeyLength  = 255
	defaultNotifyWait = 5 * time.Second
)

var paymentMethods = map[string]bool{
	"bank_transfer": true,
	"credit_card":   true,
	"ewallet":       true,
	"qris":          true,
}

type Deps struct {
	UoW       UnitOfWork
	Ledger    *inventory.Ledger
	Catalog   Catalog
	Addresses AddressBook
	Notifier  Notifier
	Gateway   Gateway
	Pricing   Pricing
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	// NewNumber overrides order number generation.
	NewNumber func(now time.Time) string
	Now       func() time.Time
}

// Service is the order orchestrator. Every mutating method is one unit of
// work; gateway calls happen before it and notifications after commit.
type Service struct {
	uow       UnitOfWork
	ledger    *inventory.Ledger
	catalog   Catalog
	addresses AddressBook
	notifier  Notifier
	gateway   Gateway
	pricing   Pricing
	log       *zap.Logger
	metrics   *metrics.Metrics
	newNumber func(now time.Time) string
	now       func() time.Time
	tracer    trace.Tracer

	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

func NewService(d Deps) *Service {
	s := &Service{
		uow:           d.UoW,
		ledger:        d.Ledger,
		catalog:       d.Catalog,
		addresses:     d.Addresses,
		notifier:      d.Notifier,
		gateway:       d.Gateway,
		pricing:       d.Pricing,
		log:           d.Log,
		metrics:       d.Metrics,
		newNumber:     d.NewNumber,
		now:           d.Now,
		tracer:        otel.Tracer("github.com/ariefcatur/storefront-orders/internal/orders"),
		notifyTimeout: defaultNotifyWait,
	}
	if s.ledger == nil {
		s.ledger = inventory.NewLedger(d.Metrics)
	}
	if s.pricing.ShippingRates == nil {
		s.pricing = DefaultPricing()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.newNumber == nil {
		s.newNumber = NewOrderNumber
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Wait blocks until in-flight notifications have been handed off.
func (s *Service) Wait() { s.inflight.Wait() }

// Create reserves stock for every line and persists the order in one
// transaction. Any failure leaves stock and orders untouched.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	o, _, err := s.CreateIdempotent(ctx, req)
	return o, err
}

// CreateIdempotent is Create honouring req.IdempotencyKey. When the user
// already placed an order under that key the existing order comes back with
// replayed set, and nothing is reserved or written again.
func (s *Service) CreateIdempotent(ctx context.Context, req CreateOrderRequest) (_ *Order, replayed bool, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Create", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	))
	defer func() { endSpan(span, err) }()

	lines, err := normalizeLines(req)
	if err != nil {
		return nil, false, err
	}
	shipping, ok := s.pricing.ShippingCost(req.ShippingMethod)
	if !ok {
		return nil, false, apperr.Validation(fmt.Sprintf("unknown shipping method %q", req.ShippingMethod))
	}
	shipAddr, err := s.address(ctx, req.ShippingAddressID, req.UserID)
	if err != nil {
		return nil, false, err
	}
	billAddr := shipAddr
	if req.BillingAddressID != "" && req.BillingAddressID != req.ShippingAddressID {
		if billAddr, err = s.address(ctx, req.BillingAddressID, req.UserID); err != nil {
			return nil, false, err
		}
	}

	now := s.now()
	o := &Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		ShippingCost:    shipping,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: shipAddr,
		BillingAddress:  billAddr,
		Notes:           strings.TrimSpace(req.Notes),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var existing *Order
	err = s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		if req.IdempotencyKey != "" {
			prior, err := tx.Orders().FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
			if err == nil {
				existing = prior
				return nil
			}
			if !errors.Is(err, ErrOrderNotFound) {
				return fmt.Errorf("find idempotency key: %w", err)
			}
		}
		o.Items = o.Items[:0]
		o.Subtotal = 0
		for _, l := range lines {
			p, err := s.catalog.Get(ctx, l.ProductID)
			if errors.Is(err, ErrProductNotFound) {
				return apperr.NotFound("product", l.ProductID)
			}
			if err != nil {
				return fmt.Errorf("catalog get %s: %w", l.ProductID, err)
			}
			if !p.Active {
				return apperr.Validation(fmt.Sprintf("product %s is not available", l.ProductID)).WithDetail("product_id", l.ProductID)
			}
			if _, err := s.ledger.Reserve(ctx, tx.Stock(), l.ProductID, l.Quantity, o.ID); err != nil {
				return err
			}
			sub := p.PriceCents * int64(l.Quantity)
			o.Items = append(o.Items, Item{
				ID:            uuid.NewString(),
				OrderID:       o.ID,
				ProductID:     p.ID,
				NameSnapshot:  p.Name,
				PriceSnapshot: p.PriceCents,
				Quantity:      l.Quantity,
				Subtotal:      sub,
			})
			o.Subtotal += sub
		}
		o.Tax = s.pricing.Tax(o.Subtotal)
		o.Total = Total(o.Subtotal, o.ShippingCost, o.Tax, o.Discount)

		if err := s.insertWithNumber(ctx, tx, o); err != nil {
			return err
		}
		return tx.History().Append(ctx, s.historyRow(o, req.UserID, "Order placed"))
	})
	if errors.Is(err, ErrDuplicateIdemKey) {
		// request kembar commit lebih dulu; reservasi kita sudah di-rollback
		existing, err = s.orderByIdemKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
	} else if err != nil {
		s.metrics.ReservationFailed(string(apperr.KindOf(err)))
		return nil, false, err
	}
	if existing != nil {
		s.log.Info("order create replayed",
			zap.String("order_id", existing.ID),
			zap.String("order_number", existing.OrderNumber),
		)
		return existing, true, nil
	}

	s.metrics.OrderCreated()
	s.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.Int64("total", o.Total),
		zap.Int("lines", len(o.Items)),
	)
	s.dispatch(ctx, o.UserID, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Total:       o.Total,
		ItemCount:   len(o.Items),
	})
	return o, false, nil
}

func (s *Service) orderByIdemKey(ctx context.Context, userID, key string) (*Order, error) {
	var o *Order
	err := s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.Orders().FindByIdempotencyKey(ctx, userID, key)
		if errors.Is(err, ErrOrderNotFound) {
			return apperr.Invariant("order vanished after idempotency key conflict")
		}
		return err
	})
	return o, err
}

func (s *Service) insertWithNumber(ctx context.Context, tx Tx, o *Order) error {
	for attempt := 1; ; attempt++ {
		o.OrderNumber = s.newNumber(o.CreatedAt)
		err := tx.Orders().Insert(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateOrderNumber) {
			return fmt.Errorf("insert order: %w", err)
		}
		s.log.Warn("order number collision", zap.String("order_number", o.OrderNumber), zap.Int("attempt", attempt))
		if attempt >= maxOrderNumberAttempts {
			return apperr.Invariant(fmt.Sprintf("no unique order number after %d attempts", attempt))
		}
	}
}

func (s *Service) address(ctx context.Context, addressID, userID string) (Address, error) {
	a, err := s.addresses.Get(ctx, addressID, userID)
	if errors.Is(err, ErrAddressNotFound) {
		return Address{}, apperr.NotFound("address", addressID)
	}
	if err != nil {
		return Address{}, fmt.Errorf("address get %s: %w", addressID, err)
	}
	return a, nil
}

// normalizeLines validates the request and merges duplicate products. Lines
// come back sorted by product id so concurrent orders lock rows in one order.
func normalizeLines(req CreateOrderRequest) ([]LineInput, error) {
	switch {
	case req.UserID == "":
		return nil, apperr.Validation("user_id is required")
	case req.ShippingAddressID == "":
		return nil, apperr.Validation("shipping_address_id is required")
	case len(req.Items) == 0:
		return nil, apperr.Validation("order must contain at least one item")
	case len(req.Items) > maxLinesPerOrder:
		return nil, apperr.Validation(fmt.Sprintf("order may contain at most %d items", maxLinesPerOrder))
	case !paymentMethods[req.PaymentMethod]:
		return nil, apperr.Validation(fmt.Sprintf("unsupported payment method %q", req.PaymentMethod))
	case len(req.Notes) > maxNotesLength:
		return nil, apperr.Validation("notes too long")
	case len(req.IdempotencyKey) > maxIdemKeyLength:
		return nil, apperr.Validation(fmt.Sprintf("idempotency key may be at most %d characters", maxIdemKeyLength))
	}
	merged := map[string]int{}
	for i, l := range req.Items {
		if strings.TrimSpace(l.ProductID) == "" {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].product_id is required", i))
		}
		if l.Quantity <= 0 {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].quantity must be greater than zero", i)).WithDetail("product_id", l.ProductID)
		}
		merged[l.ProductID] += l.Quantity
	}
	out := make([]LineInput, 0, len(merged))
	for id, qty := range merged {
		out = append(out, LineInput{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Service) historyRow(o *Order, actor, notes string) StatusHistory {
	return StatusHistory{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Status:    o.Status,
		ChangedBy: actor,
		Notes:     notes,
		CreatedAt: o.UpdatedAt,
	}
}

// dispatch hands a notification to the notifier after commit. It never
// blocks the caller and never reports failure upwards.
func (s *Service) dispatch(ctx context.Context, target, event, orderID string, payload any) {
	if s.notifier == nil {
		return
	}
	log := s.log.With(zap.String("event", event), zap.String("order_id", orderID))
	base := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(base, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, target, event, payload); err != nil {
			s.metrics.NotificationFailed(event)
			log.Warn("notification dispatch failed", zap.Error(err))
		}
	}()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}
