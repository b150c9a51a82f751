package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// OrderCache keeps recently read orders. Database stays the source of truth;
// writers invalidate, TTL bounds whatever they miss.
//
// Invalidate leaves a short-lived tombstone and Set only fills an empty key,
// so a reader that loaded the order before a concurrent write cannot put the
// stale copy back.
type OrderCache struct {
	rdb redis.UniversalClient
}

func NewOrderCache(rdb redis.UniversalClient) *OrderCache {
	return &OrderCache{rdb: rdb}
}

// Get returns nil, nil on a miss.
func (c *OrderCache) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	s, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(s) == orderTombstone {
		return nil, nil
	}
	var o orders.Order
	if err := json.Unmarshal(s, &o); err != nil {
		// entry rusak diperlakukan sebagai miss
		_ = c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
		return nil, nil
	}
	return &o, nil
}

// Set fills the cache after a database read. It never overwrites: an existing
// entry or tombstone wins and the fill is dropped.
func (c *OrderCache) Set(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyOrderStatus, o.ID), b, TTLStatusCache).Err()
}

// Invalidate replaces the entry with a tombstone that outlives any in-flight
// read-through fill.
func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), orderTombstone, TTLInvalidation).Err()
}
