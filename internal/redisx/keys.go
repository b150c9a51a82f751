package redisx

import "time"

const (
	// Cache order: order_status:{order_id} -> order json atau tombstone "-" (read-through GET /orders/{id})
	KeyOrderStatus = "order_status:%s"

	// Dedup webhook pembayaran: dedup:payment:{transaction_id}:{gateway_status}:{fraud_status} -> PaymentResult json
	KeyPaymentDedup = "dedup:payment:%s"

	// Dedup event notifikasi di consumer: dedup:{group}:{event_id}
	KeyEventDedup = "dedup:%s:%s"

	// Idempotency-Key POST /orders: idem:order:create:{user_id}:{key} -> order id
	KeyIdemOrderCreate = "idem:order:create:%s"
)

// orderTombstone menandai order yang baru di-invalidate
const orderTombstone = "-"

var (
	TTLStatusCache  = 5 * time.Minute
	// harus lebih lama dari timeout GET /orders/{id}
	TTLInvalidation = 10 * time.Second
	TTLDedup        = 48 * time.Hour
	TTLIdempotency  = 24 * time.Hour
)
