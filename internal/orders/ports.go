package orders

import (
	"context"
	"errors"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

var (
	ErrOrderNotFound        = errors.New("orders: order not found")
	ErrDuplicateOrderNumber = errors.New("orders: duplicate order number")
	ErrDuplicateIdemKey     = errors.New("orders: idempotency key already used")
	ErrDuplicatePayment     = errors.New("orders: payment record already exists")
	ErrProductNotFound      = inventory.ErrProductNotFound
	ErrAddressNotFound      = errors.New("orders: address not found")
)

// UnitOfWork runs fn as one atomic transaction. The ctx handed to fn carries
// the transaction, so a nested Within joins it instead of opening another.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx gives access to every repository bound to the same transaction.
type Tx interface {
	Stock() inventory.Store
	Orders() OrderRepository
	History() HistoryRepository
	Payments() PaymentRepository
}

type OrderRepository interface {
	// Insert stores the order with its items. A clash on the order number
	// returns ErrDuplicateOrderNumber and leaves the transaction usable; a
	// clash on (user, idempotency key) returns ErrDuplicateIdemKey.
	Insert(ctx context.Context, o *Order) error
	// FindByIdempotencyKey returns ErrOrderNotFound when the user never used key.
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	GetByNumberForUpdate(ctx context.Context, number string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// UpdateState persists the mutable columns: statuses, cancel reason,
	// tracking number, payment session and updated_at.
	UpdateState(ctx context.Context, o *Order) error
}

type HistoryRepository interface {
	Append(ctx context.Context, h StatusHistory) error
	List(ctx context.Context, orderID string) ([]StatusHistory, error)
}

type PaymentRepository interface {
	// Find returns nil, nil when no record has this idempotency key.
	Find(ctx context.Context, key PaymentKey) (*PaymentRecord, error)
	// Insert returns ErrDuplicatePayment on an idempotency key clash.
	Insert(ctx context.Context, p PaymentRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]PaymentRecord, error)
}

type Catalog interface {
	Get(ctx context.Context, productID string) (Product, error)
}

type AddressBook interface {
	Get(ctx context.Context, addressID, userID string) (Address, error)
}

// Notifier is fire-and-forget; callers never fail because of it.
type Notifier interface {
	Notify(ctx context.Context, target, eventType string, payload any) error
}

type Session struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// GatewayStatus is a gateway notification after verification, in gateway terms.
type GatewayStatus struct {
	OrderNumber       string
	TransactionID     string
	TransactionStatus string
	FraudStatus       string
	StatusCode        string
	PaymentType       string
	GrossAmount       int64
}

type Gateway interface {
	CreateSession(ctx context.Context, o Order) (Session, error)
	VerifyNotification(ctx context.Context, raw []byte) (GatewayStatus, error)
	QueryStatus(ctx context.Context, orderNumber string) (GatewayStatus, error)
	Cancel(ctx context.Context, orderNumber string) error
}
