// Package memory is a process-local store implementing the same ports as the
// Postgres store. Transactions are serialized and applied copy-on-commit, so a
// failed unit of work leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/google/uuid"
)

type productRow struct {
	product   orders.Product
	stock     int
	threshold int
}

type state struct {
	products     map[string]productRow
	addresses    map[string]orders.Address
	orders       map[string]orders.Order
	orderNumbers map[string]string
	idemKeys     map[string]string
	history      []orders.StatusHistory
	ledger       []inventory.Transaction
	payments     []orders.PaymentRecord
	paymentKeys  map[orders.PaymentKey]int
}

func newState() *state {
	return &state{
		products:     map[string]productRow{},
		addresses:    map[string]orders.Address{},
		orders:       map[string]orders.Order{},
		orderNumbers: map[string]string{},
		idemKeys:     map[string]string{},
		paymentKeys:  map[orders.PaymentKey]int{},
	}
}

func (s *state) clone() *state {
	c := &state{
		products:     make(map[string]productRow, len(s.products)),
		addresses:    make(map[string]orders.Address, len(s.addresses)),
		orders:       make(map[string]orders.Order, len(s.orders)),
		orderNumbers: make(map[string]string, len(s.orderNumbers)),
		idemKeys:     make(map[string]string, len(s.idemKeys)),
		history:      append([]orders.StatusHistory(nil), s.history...),
		ledger:       append([]inventory.Transaction(nil), s.ledger...),
		payments:     append([]orders.PaymentRecord(nil), s.payments...),
		paymentKeys:  make(map[orders.PaymentKey]int, len(s.paymentKeys)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderNumbers {
		c.orderNumbers[k] = v
	}
	for k, v := range s.idemKeys {
		c.idemKeys[k] = v
	}
	for k, v := range s.paymentKeys {
		c.paymentKeys[k] = v
	}
	return c
}

type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

type txKey struct{ s *Store }

// Within implements orders.UnitOfWork.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if tx, ok := ctx.Value(txKey{s}).(*memTx); ok {
		return fn(ctx, tx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone()}
	if err := fn(context.WithValue(ctx, txKey{s}, tx), tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// WithinStock implements inventory.UnitOfWork.
func (s *Store) WithinStock(ctx context.Context, fn func(inventory.Store) error) error {
	return s.Within(ctx, func(_ context.Context, tx orders.Tx) error {
		return fn(tx.Stock())
	})
}

// read runs fn against the caller's transaction state when there is one,
// otherwise against committed state under the lock.
func (s *Store) read(ctx context.Context, fn func(st *state)) {
	if tx, ok := ctx.Value(txKey{s}).(*memTx); ok {
		fn(tx.st)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// AddProduct seeds a product with an INITIAL ledger entry.
func (s *Store) AddProduct(p orders.Product, stock, threshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = productRow{product: p, stock: stock, threshold: threshold}
	s.state.ledger = append(s.state.ledger, inventory.Transaction{
		ID:            uuid.NewString(),
		ProductID:     p.ID,
		Type:          inventory.TxInitial,
		QuantityDelta: stock,
		PreviousStock: 0,
		CurrentStock:  stock,
		Notes:         "initial stock",
		CreatedAt:     time.Now().UTC(),
	})
}

func (s *Store) AddAddress(a orders.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.addresses[a.ID] = a
}

// Catalog implements orders.Catalog.
func (s *Store) Catalog() orders.Catalog { return catalog{s} }

// Addresses implements orders.AddressBook.
func (s *Store) Addresses() orders.AddressBook { return addressBook{s} }

type catalog struct{ s *Store }

func (c catalog) Get(ctx context.Context, productID string) (orders.Product, error) {
	var (
		p  orders.Product
		ok bool
	)
	c.s.read(ctx, func(st *state) {
		var row productRow
		row, ok = st.products[productID]
		p = row.product
	})
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

type addressBook struct{ s *Store }

func (a addressBook) Get(ctx context.Context, addressID, userID string) (orders.Address, error) {
	var (
		addr orders.Address
		ok   bool
	)
	a.s.read(ctx, func(st *state) { addr, ok = st.addresses[addressID] })
	if !ok || addr.UserID != userID {
		return orders.Address{}, orders.ErrAddressNotFound
	}
	return addr, nil
}

type memTx struct{ st *state }

func (t *memTx) Stock() inventory.Store { return stockRepo{t.st} }

func (t *memTx) Orders() orders.OrderRepository { return orderRepo{t.st} }

func (t *memTx) History() orders.HistoryRepository { return historyRepo{t.st} }

func (t *memTx) Payments() orders.PaymentRepository { return paymentRepo{t.st} }

type stockRepo struct{ st *state }

func (r stockRepo) LockStock(ctx context.Context, productID string) (inventory.StockRecord, error) {
	return r.GetStock(ctx, productID)
}

func (r stockRepo) GetStock(_ context.Context, productID string) (inventory.StockRecord, error) {
	row, ok := r.st.products[productID]
	if !ok {
		return inventory.StockRecord{}, inventory.ErrProductNotFound
	}
	return inventory.StockRecord{ProductID: productID, Stock: row.stock, LowStockThreshold: row.threshold}, nil
}

func (r stockRepo) SetStock(_ context.Context, productID string, stock int) error {
	row, ok := r.st.products[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	row.stock = stock
	r.st.products[productID] = row
	return nil
}

func (r stockRepo) SetThreshold(_ context.Context, productID string, threshold int) error {
	row, ok := r.st.products[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	row.threshold = threshold
	r.st.products[productID] = row
	return nil
}

func (r stockRepo) AppendTransaction(_ context.Context, t inventory.Transaction) error {
	r.st.ledger = append(r.st.ledger, t)
	return nil
}

func (r stockRepo) LatestTransaction(_ context.Context, productID string) (*inventory.Transaction, error) {
	for i := len(r.st.ledger) - 1; i >= 0; i-- {
		if r.st.ledger[i].ProductID == productID {
			t := r.st.ledger[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (r stockRepo) ListTransactions(_ context.Context, productID string, limit int) ([]inventory.Transaction, error) {
	var out []inventory.Transaction
	for i := len(r.st.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if r.st.ledger[i].ProductID == productID {
			out = append(out, r.st.ledger[i])
		}
	}
	return out, nil
}

type orderRepo struct{ st *state }

func copyOrder(o orders.Order) *orders.Order {
	o.Items = append([]orders.Item(nil), o.Items...)
	return &o
}

func idemKey(userID, key string) string { return userID + "|" + key }

func (r orderRepo) Insert(_ context.Context, o *orders.Order) error {
	if _, dup := r.st.orderNumbers[o.OrderNumber]; dup {
		return orders.ErrDuplicateOrderNumber
	}
	if o.IdempotencyKey != "" {
		if _, dup := r.st.idemKeys[idemKey(o.UserID, o.IdempotencyKey)]; dup {
			return orders.ErrDuplicateIdemKey
		}
		r.st.idemKeys[idemKey(o.UserID, o.IdempotencyKey)] = o.ID
	}
	r.st.orders[o.ID] = *copyOrder(*o)
	r.st.orderNumbers[o.OrderNumber] = o.ID
	return nil
}

func (r orderRepo) FindByIdempotencyKey(ctx context.Context, userID, key string) (*orders.Order, error) {
	id, ok := r.st.idemKeys[idemKey(userID, key)]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r orderRepo) Get(_ context.Context, id string) (*orders.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepo) GetByNumberForUpdate(ctx context.Context, number string) (*orders.Order, error) {
	id, ok := r.st.orderNumbers[number]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r orderRepo) ListByUser(_ context.Context, userID string, limit int) ([]orders.Order, error) {
	var out []orders.Order
	for _, o := range r.st.orders {
		if o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r orderRepo) UpdateState(_ context.Context, o *orders.Order) error {
	cur, ok := r.st.orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.CancelReason = o.CancelReason
	cur.TrackingNumber = o.TrackingNumber
	cur.PaymentToken = o.PaymentToken
	cur.PaymentURL = o.PaymentURL
	cur.UpdatedAt = o.UpdatedAt
	r.st.orders[o.ID] = cur
	return nil
}

type historyRepo struct{ st *state }

func (r historyRepo) Append(_ context.Context, h orders.StatusHistory) error {
	r.st.history = append(r.st.history, h)
	return nil
}

func (r historyRepo) List(_ context.Context, orderID string) ([]orders.StatusHistory, error) {
	var out []orders.StatusHistory
	for _, h := range r.st.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

type paymentRepo struct{ st *state }

func (r paymentRepo) Find(_ context.Context, key orders.PaymentKey) (*orders.PaymentRecord, error) {
	i, ok := r.st.paymentKeys[key]
	if !ok {
		return nil, nil
	}
	p := r.st.payments[i]
	return &p, nil
}

func (r paymentRepo) Insert(_ context.Context, p orders.PaymentRecord) error {
	key := p.Key()
	if _, dup := r.st.paymentKeys[key]; dup {
		return orders.ErrDuplicatePayment
	}
	r.st.payments = append(r.st.payments, p)
	r.st.paymentKeys[key] = len(r.st.payments) - 1
	return nil
}

func (r paymentRepo) ListByOrder(_ context.Context, orderID string) ([]orders.PaymentRecord, error) {
	var out []orders.PaymentRecord
	for _, p := range r.st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}
