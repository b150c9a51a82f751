package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const gatewayName = "payment gateway"

type Config struct {
	BaseURL   string // core API, e.g. https://api.sandbox.midtrans.com
	SnapURL   string // checkout session endpoint
	ServerKey string
	Timeout   time.Duration
}

// HTTPGateway talks to a Midtrans-style payment gateway. Every call goes
// through one circuit breaker; an open breaker surfaces as an external
// service error so clients retry later.
type HTTPGateway struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewHTTPGateway(cfg Config, log *zap.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        gatewayName,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// jawaban 4xx dari gateway bukan tanda gateway sakit
			IsSuccessful: func(err error) bool {
				switch apperr.KindOf(err) {
				case apperr.KindValidation, apperr.KindNotFound, apperr.KindSecurity:
					return true
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		log: log,
	}
}

// notification is the webhook body as the gateway sends it.
type notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	SignatureKey      string `json:"signature_key"`
	StatusMessage     string `json:"status_message"`
}

// Signature is SHA-512 over order_id, status_code, gross_amount and the server key.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifyNotification checks the signature and re-queries the gateway. The
// re-queried status is authoritative; the notification only says where to look.
func (g *HTTPGateway) VerifyNotification(ctx context.Context, raw []byte) (orders.GatewayStatus, error) {
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return orders.GatewayStatus{}, apperr.Validation("malformed payment notification")
	}
	if n.OrderID == "" || n.TransactionID == "" || n.SignatureKey == "" {
		return orders.GatewayStatus{}, apperr.Security("payment notification is missing signature fields")
	}
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, g.cfg.ServerKey)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(n.SignatureKey)), []byte(want)) != 1 {
		return orders.GatewayStatus{}, apperr.Security("invalid payment notification signature").
			WithDetail("order_number", n.OrderID)
	}

	st, err := g.QueryStatus(ctx, n.OrderID)
	if apperr.Is(err, apperr.KindNotFound) {
		// gateway tidak kenal transaksinya: notifikasi palsu
		return orders.GatewayStatus{}, apperr.Security("notification refers to unknown gateway transaction").
			WithDetail("order_number", n.OrderID)
	}
	if err != nil {
		return orders.GatewayStatus{}, err
	}
	if st.TransactionID != n.TransactionID {
		return orders.GatewayStatus{}, apperr.Security("notification transaction does not match gateway record").
			WithDetail("order_number", n.OrderID)
	}
	return st, nil
}

func (g *HTTPGateway) QueryStatus(ctx context.Context, orderNumber string) (orders.GatewayStatus, error) {
	var n notification
	if err := g.call(ctx, http.MethodGet, g.cfg.BaseURL+"/v2/"+url.PathEscape(orderNumber)+"/status", nil, &n); err != nil {
		return orders.GatewayStatus{}, err
	}
	if n.StatusCode == "404" {
		return orders.GatewayStatus{}, apperr.NotFound("gateway transaction", orderNumber)
	}
	amount, err := parseAmount(n.GrossAmount)
	if err != nil {
		return orders.GatewayStatus{}, err
	}
	return orders.GatewayStatus{
		OrderNumber:       n.OrderID,
		TransactionID:     n.TransactionID,
		TransactionStatus: n.TransactionStatus,
		FraudStatus:       n.FraudStatus,
		StatusCode:        n.StatusCode,
		PaymentType:       n.PaymentType,
		GrossAmount:       amount,
	}, nil
}

func (g *HTTPGateway) Cancel(ctx context.Context, orderNumber string) error {
	return g.call(ctx, http.MethodPost, g.cfg.BaseURL+"/v2/"+url.PathEscape(orderNumber)+"/cancel", nil, nil)
}

type snapItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type snapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	ItemDetails     []snapItem `json:"item_details"`
	CustomerDetails struct {
		FirstName string `json:"first_name"`
		Phone     string `json:"phone,omitempty"`
	} `json:"customer_details"`
	EnabledPayments []string `json:"enabled_payments,omitempty"`
}

// enabledPayments maps an order payment method to gateway payment channels.
var enabledPayments = map[string][]string{
	"bank_transfer": {"bank_transfer", "echannel", "permata_va", "bca_va", "bni_va", "bri_va"},
	"credit_card":   {"credit_card"},
	"ewallet":       {"gopay", "shopeepay"},
	"qris":          {"other_qris"},
}

// CreateSession opens a checkout session. Item lines, shipping and tax sum to
// the order total, which the gateway checks against gross_amount.
func (g *HTTPGateway) CreateSession(ctx context.Context, o orders.Order) (orders.Session, error) {
	var req snapRequest
	req.TransactionDetails.OrderID = o.OrderNumber
	req.TransactionDetails.GrossAmount = o.Total
	for _, it := range o.Items {
		req.ItemDetails = append(req.ItemDetails, snapItem{ID: it.ProductID, Name: it.NameSnapshot, Price: it.PriceSnapshot, Quantity: it.Quantity})
	}
	if o.ShippingCost > 0 {
		req.ItemDetails = append(req.ItemDetails, snapItem{ID: "shipping", Name: "Shipping (" + o.ShippingMethod + ")", Price: o.ShippingCost, Quantity: 1})
	}
	if o.Tax > 0 {
		req.ItemDetails = append(req.ItemDetails, snapItem{ID: "tax", Name: "VAT", Price: o.Tax, Quantity: 1})
	}
	if o.Discount > 0 {
		req.ItemDetails = append(req.ItemDetails, snapItem{ID: "discount", Name: "Discount", Price: -o.Discount, Quantity: 1})
	}
	req.CustomerDetails.FirstName = o.ShippingAddress.Recipient
	req.CustomerDetails.Phone = o.ShippingAddress.Phone
	req.EnabledPayments = enabledPayments[o.PaymentMethod]

	var out struct {
		Token       string `json:"token"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := g.call(ctx, http.MethodPost, g.cfg.SnapURL, req, &out); err != nil {
		return orders.Session{}, err
	}
	if out.Token == "" {
		return orders.Session{}, apperr.ExternalService(gatewayName, errors.New("session response without token"))
	}
	return orders.Session{Token: out.Token, RedirectURL: out.RedirectURL}, nil
}

// call performs one JSON request through the breaker.
func (g *HTTPGateway) call(ctx context.Context, method, endpoint string, in, out any) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.do(ctx, method, endpoint, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.log.Warn("payment gateway unavailable", zap.String("endpoint", endpoint), zap.Error(err))
		return apperr.ExternalService(gatewayName, err)
	}
	return err
}

func (g *HTTPGateway) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode gateway request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(g.cfg.ServerKey, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return apperr.ExternalService(gatewayName, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.ExternalService(gatewayName, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.ExternalService(gatewayName, fmt.Errorf("gateway rejected credentials: %s", resp.Status))
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound("gateway resource", endpoint)
	case resp.StatusCode >= 500:
		return apperr.ExternalService(gatewayName, fmt.Errorf("gateway returned %s", resp.Status))
	case resp.StatusCode >= 400:
		return apperr.Validation(fmt.Sprintf("gateway rejected request: %s", strings.TrimSpace(string(raw))))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.ExternalService(gatewayName, fmt.Errorf("decode gateway response: %w", err))
	}
	return nil
}

// parseAmount turns "121000.00" into minor units. Fractional amounts are
// rejected; the store prices in whole rupiah.
func parseAmount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, apperr.Validation(fmt.Sprintf("invalid gross_amount %q", s))
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, apperr.Validation(fmt.Sprintf("fractional gross_amount %q", s))
	}
	return d.IntPart(), nil
}
