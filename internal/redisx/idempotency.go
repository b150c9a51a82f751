package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OrderIdempotency maps (user, Idempotency-Key) to the order it created, so a
// retried POST /orders skips the database. The orders table keeps the unique
// key; this is only the fast path.
type OrderIdempotency struct {
	rdb redis.UniversalClient
}

func NewOrderIdempotency(rdb redis.UniversalClient) *OrderIdempotency {
	return &OrderIdempotency{rdb: rdb}
}

func idemOrderKey(userID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, userID+":"+key)
}

// Lookup returns "" when the key is unknown.
func (o *OrderIdempotency) Lookup(ctx context.Context, userID, key string) (string, error) {
	id, err := o.rdb.Get(ctx, idemOrderKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (o *OrderIdempotency) Remember(ctx context.Context, userID, key, orderID string) error {
	return o.rdb.Set(ctx, idemOrderKey(userID, key), orderID, TTLIdempotency).Err()
}
