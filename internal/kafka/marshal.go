package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

func DecodeEnvelope(b []byte) (orders.Envelope, error) {
	var ev orders.Envelope
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("decode envelope: %w", err)
	}
	if ev.EventID == "" || ev.EventType == "" {
		return ev, fmt.Errorf("decode envelope: missing event_id or event_type")
	}
	return ev, nil
}

// UnwrapPayload memudahkan decode payload spesifik
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
