package orders

import "time"

type Product struct {
	ID         string
	Name       string
	PriceCents int64
	Images     []string
	Active     bool
}

type Address struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

type Order struct {
	ID              string        `json:"id"`
	OrderNumber     string        `json:"order_number"`
	UserID          string        `json:"user_id"`
	Items           []Item        `json:"items"`
	Subtotal        int64         `json:"subtotal"`
	Tax             int64         `json:"tax"`
	ShippingCost    int64         `json:"shipping_cost"`
	Discount        int64         `json:"discount"`
	Total           int64         `json:"total"`
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	ShippingMethod  string        `json:"shipping_method"`
	PaymentMethod   string        `json:"payment_method"`
	ShippingAddress Address       `json:"shipping_address"`
	BillingAddress  Address       `json:"billing_address"`
	Notes           string        `json:"notes,omitempty"`
	CancelReason    string        `json:"cancel_reason,omitempty"`
	TrackingNumber  string        `json:"tracking_number,omitempty"`
	IdempotencyKey  string        `json:"-"`
	PaymentToken    string        `json:"-"`
	PaymentURL      string        `json:"payment_url,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Item keeps the name and price as they were when the order was placed.
type Item struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	NameSnapshot  string `json:"name"`
	PriceSnapshot int64  `json:"price"`
	Quantity      int    `json:"quantity"`
	Subtotal      int64  `json:"subtotal"`
}

type StatusHistory struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentRecord struct {
	ID                   string        `json:"id"`
	OrderID              string        `json:"order_id"`
	GatewayTransactionID string        `json:"gateway_transaction_id"`
	GatewayStatus        string        `json:"gateway_status"`
	FraudStatus          string        `json:"fraud_status,omitempty"`
	Amount               int64         `json:"amount"`
	Status               PaymentStatus `json:"status"`
	Ignored              bool          `json:"ignored"`
	RawPayload           []byte        `json:"-"`
	ReceivedAt           time.Time     `json:"received_at"`
}

// PaymentKey is the idempotency key of a payment record. Fraud status is part
// of it: capture+challenge and capture+accept are distinct notifications.
type PaymentKey struct {
	TransactionID string
	GatewayStatus string
	FraudStatus   string
}

func (p PaymentRecord) Key() PaymentKey {
	return PaymentKey{TransactionID: p.GatewayTransactionID, GatewayStatus: p.GatewayStatus, FraudStatus: p.FraudStatus}
}

type LineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	UserID            string
	Items             []LineInput
	ShippingAddressID string
	BillingAddressID  string // kosong = pakai alamat pengiriman
	ShippingMethod    string
	PaymentMethod     string
	Notes             string
	// IdempotencyKey dari header Idempotency-Key; opsional, unik per user
	IdempotencyKey    string
}

// Actor is whoever triggers a change. Non-admin actors may only touch their own orders.
type Actor struct {
	ID    string
	Admin bool
}

var SystemActor = Actor{ID: "payment-gateway", Admin: true}

func (a Actor) owns(o *Order) bool { return a.Admin || a.ID == o.UserID }

// Metadata accompanies an administrative status change.
type Metadata struct {
	Notes          string
	TrackingNumber string
}
