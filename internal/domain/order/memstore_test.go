package order

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memCoupon struct {
	used  int
	limit *int
}

type memCustomer struct {
	id         string
	orderCount int
	totalSpent decimal.Decimal
}

type memState struct {
	coupons   map[string]memCoupon
	customers map[string]memCustomer
	orders    map[string]*Order
	numbers   map[string]bool
	items     map[string][]Item
}

func (s memState) clone() memState {
	return memState{
		coupons:   maps.Clone(s.coupons),
		customers: maps.Clone(s.customers),
		orders:    maps.Clone(s.orders),
		numbers:   maps.Clone(s.numbers),
		items:     maps.Clone(s.items),
	}
}

// memStore serialises transactions and applies their writes only on
// success, like a database at SERIALIZABLE.
type memStore struct {
	mu    sync.Mutex
	state memState

	// failOn makes the named step fail.
	failOn string
	txs    int
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		coupons:   map[string]memCoupon{},
		customers: map[string]memCustomer{},
		orders:    map[string]*Order{},
		numbers:   map[string]bool{},
		items:     map[string][]Item{},
	}}
}

func (m *memStore) addCoupon(id string, used int, limit *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.coupons[id] = memCoupon{used: used, limit: limit}
}

func (m *memStore) RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++

	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) fail(step string) error {
	if t.store.failOn == step {
		return errStep(step)
	}
	return nil
}

type errStep string

func (e errStep) Error() string { return string(e) + " failed" }

func (t *memTx) RedeemCoupon(_ context.Context, couponID string) error {
	if err := t.fail("redeem"); err != nil {
		return err
	}
	c, ok := t.state.coupons[couponID]
	if !ok || (c.limit != nil && c.used >= *c.limit) {
		return ErrCouponExhausted
	}
	c.used++
	t.state.coupons[couponID] = c
	return nil
}

func (t *memTx) UpsertCustomer(_ context.Context, c Customer, spent decimal.Decimal) (string, error) {
	if err := t.fail("customer"); err != nil {
		return "", err
	}
	key := c.CafeID + "/" + c.Phone
	cur, ok := t.state.customers[key]
	if !ok {
		cur = memCustomer{id: uuid.NewString(), totalSpent: decimal.Zero}
	}
	cur.orderCount++
	cur.totalSpent = cur.totalSpent.Add(spent)
	t.state.customers[key] = cur
	return cur.id, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if err := t.fail("order"); err != nil {
		return err
	}
	if t.state.numbers[o.OrderNumber] {
		return ErrDuplicateNumber
	}
	t.state.numbers[o.OrderNumber] = true
	t.state.orders[o.ID] = o
	return nil
}

func (t *memTx) InsertOrderItems(_ context.Context, orderID string, items []Item) error {
	if err := t.fail("items"); err != nil {
		return err
	}
	t.state.items[orderID] = append([]Item(nil), items...)
	return nil
}
