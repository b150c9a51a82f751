package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Notifier wraps order events in the v1 envelope and publishes them keyed by
// order id, so every event of one order lands on one partition in order.
type Notifier struct {
	pub     Publisher
	service string
	now     func() time.Time
}

func NewNotifier(pub Publisher, service string) *Notifier {
	return &Notifier{pub: pub, service: service, now: func() time.Time { return time.Now().UTC() }}
}

func (n *Notifier) Notify(ctx context.Context, target, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ev := orders.Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   n.now(),
		Producer:     n.service,
		Target:       target,
		Payload:      body,
	}
	key := target
	if ref, ok := payload.(interface{ OrderRef() string }); ok {
		ev.CorrelationID = ref.OrderRef()
		key = ev.CorrelationID
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return n.pub.Publish(ctx, orders.PartitionKey(key), value,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
