package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated        = "order.created"
	EventOrderStatusChanged  = "order.status_changed"
	EventOrderCancelled      = "order.cancelled"
	EventPaymentStatusUpdate = "order.payment_updated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	Target        string          `json:"target"` // user id penerima notifikasi
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Total       int64  `json:"total"`
	ItemCount   int    `json:"item_count"`
}

type StatusChangedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	OldStatus   Status `json:"old_status"`
	NewStatus   Status `json:"new_status"`
	Notes       string `json:"notes,omitempty"`
}

type PaymentUpdatedPayload struct {
	OrderID          string        `json:"order_id"`
	OrderNumber      string        `json:"order_number"`
	OldPaymentStatus PaymentStatus `json:"old_payment_status"`
	NewPaymentStatus PaymentStatus `json:"new_payment_status"`
	OldStatus        Status        `json:"old_status"`
	NewStatus        Status        `json:"new_status"`
}

func (p OrderCreatedPayload) OrderRef() string { return p.OrderID }

func (p StatusChangedPayload) OrderRef() string { return p.OrderID }

func (p PaymentUpdatedPayload) OrderRef() string { return p.OrderID }
