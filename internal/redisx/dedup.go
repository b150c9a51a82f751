package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// PaymentDedup stores the result of every applied payment notification under
// its idempotency key, so redeliveries skip the database.
type PaymentDedup struct {
	rdb redis.UniversalClient
}

func NewPaymentDedup(rdb redis.UniversalClient) *PaymentDedup {
	return &PaymentDedup{rdb: rdb}
}

// Lookup returns nil, nil when the key was never remembered.
func (d *PaymentDedup) Lookup(ctx context.Context, key string) (*orders.PaymentResult, error) {
	b, err := d.rdb.Get(ctx, fmt.Sprintf(KeyPaymentDedup, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res orders.PaymentResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, nil
	}
	return &res, nil
}

// Remember is called only after the database commit.
func (d *PaymentDedup) Remember(ctx context.Context, key string, res orders.PaymentResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return d.rdb.Set(ctx, fmt.Sprintf(KeyPaymentDedup, key), b, TTLDedup).Err()
}

// FirstSeen marks an event id as handled for a consumer group. It reports
// false when another delivery got there first.
func FirstSeen(ctx context.Context, rdb redis.UniversalClient, group, eventID string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyEventDedup, group, eventID), 1, TTLDedup).Result()
}

// Forget drops an event marker so a failed handler can be retried.
func Forget(ctx context.Context, rdb redis.UniversalClient, group, eventID string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyEventDedup, group, eventID)).Err()
}
