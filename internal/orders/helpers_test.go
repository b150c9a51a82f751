package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/memory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	userID    = "user-1"
	addressID = "addr-1"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (n *recordingNotifier) Notify(_ context.Context, _, eventType string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
	if n.fail {
		return errors.New("broker down")
	}
	return nil
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type fakeGateway struct {
	mu        sync.Mutex
	sessions  int
	cancelled []string
	err       error
}

func (g *fakeGateway) CreateSession(_ context.Context, o orders.Order) (orders.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return orders.Session{}, g.err
	}
	g.sessions++
	return orders.Session{Token: "snap-" + o.OrderNumber, RedirectURL: "https://pay.example/" + o.OrderNumber}, nil
}

func (g *fakeGateway) VerifyNotification(context.Context, []byte) (orders.GatewayStatus, error) {
	return orders.GatewayStatus{}, errors.New("not used")
}

func (g *fakeGateway) QueryStatus(context.Context, string) (orders.GatewayStatus, error) {
	return orders.GatewayStatus{}, errors.New("not used")
}

func (g *fakeGateway) Cancel(_ context.Context, orderNumber string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderNumber)
	return nil
}

func (g *fakeGateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type fixture struct {
	svc      *orders.Service
	store    *memory.Store
	inv      *inventory.Service
	notifier *recordingNotifier
	gateway  *fakeGateway
}

type option func(*orders.Deps)

func newFixture(t *testing.T, stock int, opts ...option) *fixture {
	t.Helper()
	st := memory.New()
	st.AddProduct(orders.Product{ID: "P1", Name: "Kaos Polos", PriceCents: 100000, Active: true}, stock, 2)
	st.AddAddress(orders.Address{ID: addressID, UserID: userID, Recipient: "Budi", Phone: "0812", Line1: "Jl. Merdeka 1", City: "Bandung", PostalCode: "40111"})

	f := &fixture{store: st, notifier: &recordingNotifier{}, gateway: &fakeGateway{}}
	ledger := inventory.NewLedger(nil)
	deps := orders.Deps{
		UoW:       st,
		Ledger:    ledger,
		Catalog:   st.Catalog(),
		Addresses: st.Addresses(),
		Notifier:  f.notifier,
		Gateway:   f.gateway,
		Log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(&deps)
	}
	f.svc = orders.NewService(deps)
	f.inv = &inventory.Service{UoW: st, Ledger: ledger, Log: zap.NewNop()}
	t.Cleanup(f.svc.Wait)
	return f
}

func (f *fixture) addProduct(id string, price int64, stock int) {
	f.store.AddProduct(orders.Product{ID: id, Name: id, PriceCents: price, Active: true}, stock, 0)
}

func orderReq(lines ...orders.LineInput) orders.CreateOrderRequest {
	if len(lines) == 0 {
		lines = []orders.LineInput{{ProductID: "P1", Quantity: 1}}
	}
	return orders.CreateOrderRequest{
		UserID:            userID,
		Items:             lines,
		ShippingAddressID: addressID,
		ShippingMethod:    "regular",
		PaymentMethod:     "bank_transfer",
	}
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	lvl, err := f.inv.CheckStock(context.Background(), productID)
	require.NoError(t, err)
	return lvl.Stock
}

func (f *fixture) ledger(t *testing.T, productID string) []inventory.Transaction {
	t.Helper()
	rows, err := f.inv.History(context.Background(), productID, 500)
	require.NoError(t, err)
	return rows
}

// requireLedgerConsistent checks that every row chains onto the previous one
// and that the newest row matches live stock.
func (f *fixture) requireLedgerConsistent(t *testing.T, productID string) {
	t.Helper()
	rows := f.ledger(t, productID) // newest first
	require.NotEmpty(t, rows)
	for i, r := range rows {
		require.Equal(t, r.PreviousStock+r.QuantityDelta, r.CurrentStock, "row %d", i)
		require.GreaterOrEqual(t, r.CurrentStock, 0)
		if i+1 < len(rows) {
			require.Equal(t, rows[i+1].CurrentStock, r.PreviousStock, "row %d does not chain", i)
		}
	}
	require.Equal(t, f.stock(t, productID), rows[0].CurrentStock)
}

func settlement(o *orders.Order, txID string) orders.PaymentNotification {
	return orders.PaymentNotification{
		OrderNumber:          o.OrderNumber,
		GatewayTransactionID: txID,
		GatewayStatus:        "settlement",
		Status:               orders.PaymentPaid,
		Amount:               o.Total,
		RawPayload:           []byte(`{"transaction_status":"settlement"}`),
	}
}
