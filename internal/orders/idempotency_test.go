package orders_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/memory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyedReq(key string) orders.CreateOrderRequest {
	req := orderReq()
	req.IdempotencyKey = key
	return req
}

func TestCreateIdempotent_ReplayReturnsSameOrder(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	first, replayed, err := f.svc.CreateIdempotent(ctx, keyedReq("checkout-1"))
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := f.svc.CreateIdempotent(ctx, keyedReq("checkout-1"))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.OrderNumber, again.OrderNumber)

	assert.Equal(t, 4, f.stock(t, "P1"), "replay must not reserve again")
	f.requireLedgerConsistent(t, "P1")
	list, err := f.svc.ListForUser(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	f.svc.Wait()
	created := 0
	for _, ev := range f.notifier.Events() {
		if ev == orders.EventOrderCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestCreateIdempotent_KeyIsScopedPerUser(t *testing.T) {
	f := newFixture(t, 5)
	f.store.AddAddress(orders.Address{ID: "addr-2", UserID: "user-2", Recipient: "Ani", Line1: "Jl. Sudirman 2", City: "Jakarta"})
	ctx := context.Background()

	mine, _, err := f.svc.CreateIdempotent(ctx, keyedReq("same-key"))
	require.NoError(t, err)

	other := keyedReq("same-key")
	other.UserID, other.ShippingAddressID = "user-2", "addr-2"
	theirs, replayed, err := f.svc.CreateIdempotent(ctx, other)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, mine.ID, theirs.ID)
	assert.Equal(t, 3, f.stock(t, "P1"))
}

func TestCreateIdempotent_ConcurrentRetriesReserveOnce(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	ids := map[string]bool{}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		replays int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, replayed, err := f.svc.CreateIdempotent(ctx, keyedReq("double-click"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[o.ID] = true
			if replayed {
				replays++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 7, replays)
	assert.Equal(t, 4, f.stock(t, "P1"))
}

// blindUoW hides committed idempotency keys from the first lookup, the way a
// concurrent transaction that has not committed yet would look.
type blindUoW struct {
	*memory.Store
	blind *atomic.Bool
}

func (u blindUoW) Within(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return u.Store.Within(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, blindTx{Tx: tx, blind: u.blind})
	})
}

type blindTx struct {
	orders.Tx
	blind *atomic.Bool
}

func (t blindTx) Orders() orders.OrderRepository {
	return blindOrders{OrderRepository: t.Tx.Orders(), blind: t.blind}
}

type blindOrders struct {
	orders.OrderRepository
	blind *atomic.Bool
}

func (r blindOrders) FindByIdempotencyKey(ctx context.Context, userID, key string) (*orders.Order, error) {
	if r.blind.CompareAndSwap(true, false) {
		return nil, orders.ErrOrderNotFound
	}
	return r.OrderRepository.FindByIdempotencyKey(ctx, userID, key)
}

func TestCreateIdempotent_LosingInsertRaceReplays(t *testing.T) {
	blind := &atomic.Bool{}
	f := newFixture(t, 5, func(d *orders.Deps) {
		d.UoW = blindUoW{Store: d.UoW.(*memory.Store), blind: blind}
	})
	ctx := context.Background()

	first, _, err := f.svc.CreateIdempotent(ctx, keyedReq("race"))
	require.NoError(t, err)

	blind.Store(true)
	again, replayed, err := f.svc.CreateIdempotent(ctx, keyedReq("race"))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 4, f.stock(t, "P1"), "losing attempt rolls its reservation back")
	f.requireLedgerConsistent(t, "P1")
}

func TestCreateIdempotent_RejectsOversizedKey(t *testing.T) {
	f := newFixture(t, 5)
	_, _, err := f.svc.CreateIdempotent(context.Background(), keyedReq(strings.Repeat("x", 256)))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 5, f.stock(t, "P1"))
}
