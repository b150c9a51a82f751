package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverKey = "SB-Mid-server-test"

// fakeMidtrans serves the status, cancel and snap endpoints from memory.
type fakeMidtrans struct {
	mu       sync.Mutex
	status   map[string]map[string]string
	cancels  []string
	lastSnap snapRequest
	fail     atomic.Bool
}

func newFakeMidtrans(t *testing.T) (*fakeMidtrans, *HTTPGateway) {
	t.Helper()
	f := &fakeMidtrans{status: map[string]map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	gw := NewHTTPGateway(Config{BaseURL: srv.URL, SnapURL: srv.URL + "/snap/v1/transactions", ServerKey: serverKey}, nil)
	return f, gw
}

func (f *fakeMidtrans) serve(w http.ResponseWriter, r *http.Request) {
	if user, _, ok := r.BasicAuth(); !ok || user != serverKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.fail.Load() {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/snap/v1/transactions":
		_ = json.NewDecoder(r.Body).Decode(&f.lastSnap)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":        "tok-" + f.lastSnap.TransactionDetails.OrderID,
			"redirect_url": "https://app.sandbox.example/snap/v2/vtweb/tok",
		})
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/status"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v2/"), "/status")
		st, ok := f.status[id]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]string{"status_code": "404", "status_message": "Transaction doesn't exist."})
			return
		}
		_ = json.NewEncoder(w).Encode(st)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
		f.cancels = append(f.cancels, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v2/"), "/cancel"))
		_ = json.NewEncoder(w).Encode(map[string]string{"status_code": "200"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeMidtrans) setStatus(orderID, txID, status, fraud, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[orderID] = map[string]string{
		"order_id":           orderID,
		"transaction_id":     txID,
		"transaction_status": status,
		"fraud_status":       fraud,
		"status_code":        "200",
		"gross_amount":       amount,
		"payment_type":       "bank_transfer",
	}
}

func signedBody(orderID, txID, status, amount, key string) []byte {
	b, _ := json.Marshal(map[string]string{
		"order_id":           orderID,
		"transaction_id":     txID,
		"transaction_status": status,
		"status_code":        "200",
		"gross_amount":       amount,
		"signature_key":      Signature(orderID, "200", amount, key),
	})
	return b
}

func TestVerifyNotification(t *testing.T) {
	f, gw := newFakeMidtrans(t)
	ctx := context.Background()
	f.setStatus("ORD-1", "tx-1", "settlement", "", "121000.00")

	st, err := gw.VerifyNotification(ctx, signedBody("ORD-1", "tx-1", "settlement", "121000.00", serverKey))
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", st.OrderNumber)
	assert.Equal(t, "settlement", st.TransactionStatus)
	assert.Equal(t, int64(121000), st.GrossAmount)
}

func TestVerifyNotification_TrustsRequeryOverBody(t *testing.T) {
	f, gw := newFakeMidtrans(t)
	f.setStatus("ORD-1", "tx-1", "expire", "", "121000.00")

	// body mengaku settlement, gateway bilang expire
	st, err := gw.VerifyNotification(context.Background(), signedBody("ORD-1", "tx-1", "settlement", "121000.00", serverKey))
	require.NoError(t, err)
	assert.Equal(t, "expire", st.TransactionStatus)
}

func TestVerifyNotification_Rejects(t *testing.T) {
	f, gw := newFakeMidtrans(t)
	ctx := context.Background()
	f.setStatus("ORD-1", "tx-1", "settlement", "", "121000.00")

	_, err := gw.VerifyNotification(ctx, signedBody("ORD-1", "tx-1", "settlement", "121000.00", "wrong-key"))
	assert.Equal(t, apperr.KindSecurity, apperr.KindOf(err))

	_, err = gw.VerifyNotification(ctx, signedBody("ORD-1", "tx-other", "settlement", "121000.00", serverKey))
	assert.Equal(t, apperr.KindSecurity, apperr.KindOf(err), "transaction id must match the gateway record")

	_, err = gw.VerifyNotification(ctx, []byte(`{not json`))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = gw.VerifyNotification(ctx, signedBody("ORD-404", "tx-1", "settlement", "1.00", serverKey))
	assert.Equal(t, apperr.KindSecurity, apperr.KindOf(err), "unknown transaction at the gateway is a forged notification")

	_, err = gw.QueryStatus(ctx, "ORD-404")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "direct status query keeps not found")
}

func TestCreateSession(t *testing.T) {
	f, gw := newFakeMidtrans(t)
	o := orders.Order{
		OrderNumber:    "ORD-7",
		Subtotal:       100000,
		Tax:            11000,
		ShippingCost:   10000,
		Total:          121000,
		ShippingMethod: "regular",
		PaymentMethod:  "qris",
		Items:          []orders.Item{{ProductID: "P1", NameSnapshot: "Kaos", PriceSnapshot: 100000, Quantity: 1}},
	}

	sess, err := gw.CreateSession(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "tok-ORD-7", sess.Token)

	var sum int64
	for _, it := range f.lastSnap.ItemDetails {
		sum += it.Price * int64(it.Quantity)
	}
	assert.Equal(t, o.Total, f.lastSnap.TransactionDetails.GrossAmount)
	assert.Equal(t, o.Total, sum, "item details must add up to gross amount")
	assert.Equal(t, []string{"other_qris"}, f.lastSnap.EnabledPayments)
}

func TestCancel(t *testing.T) {
	f, gw := newFakeMidtrans(t)
	require.NoError(t, gw.Cancel(context.Background(), "ORD-9"))
	assert.Equal(t, []string{"ORD-9"}, f.cancels)
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	f, gw := newFakeMidtrans(t)
	f.fail.Store(true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := gw.Cancel(ctx, "ORD-1")
		assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
	}
	err := gw.Cancel(ctx, "ORD-1")
	assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, f.cancels)
}

func TestParseAmount(t *testing.T) {
	n, err := parseAmount("121000.00")
	require.NoError(t, err)
	assert.Equal(t, int64(121000), n)

	_, err = parseAmount("10.50")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = parseAmount("abc")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
