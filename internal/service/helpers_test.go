package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartengine/internal/completeness"
	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/event"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/internal/repository/memory"
	"github.com/utafrali/cartengine/internal/variants"
	"github.com/utafrali/cartengine/pkg/logger"
)

// --- Test variants ---

// countingCard approves every charge and counts them.
type countingCard struct {
	SingleUse bool `json:"single_use"`

	calls *atomic.Int32
}

func (c *countingCard) MakePayment(_ context.Context, req domain.ChargeRequest) (*domain.Payment, error) {
	c.calls.Add(1)
	if c.SingleUse {
		req.Method.Deactivate()
	}
	return domain.NewPayment(req, map[string]string{"ref": "counted"}), nil
}

// brokenCard violates the payment contract in the way Mode names.
type brokenCard struct {
	Mode string `json:"mode"`
}

func (c *brokenCard) MakePayment(_ context.Context, req domain.ChargeRequest) (*domain.Payment, error) {
	if c.Mode == "foreign" {
		p := domain.NewPayment(req, nil)
		p.MethodID = uuid.New()
		return p, nil
	}
	return nil, nil
}

// panickyItem panics in its checkout hook.
type panickyItem struct {
	Price decimal.Decimal `json:"price"`
}

func (p *panickyItem) Total() decimal.Decimal { return p.Price }

func (p *panickyItem) PrepareForCheckout(context.Context) { panic("hook exploded") }

// recordingStock reports everything in stock and records each decrement.
type recordingStock struct {
	mu   sync.Mutex
	done []stockDecrement
}

type stockDecrement struct {
	ProductID string
	Quantity  int
	Key       string
}

func (s *recordingStock) InStock(context.Context, string, string, int) (bool, error) {
	return true, nil
}

func (s *recordingStock) Decrement(_ context.Context, productID, _ string, quantity int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, stockDecrement{ProductID: productID, Quantity: quantity, Key: key})
	return nil
}

func (s *recordingStock) decrements() []stockDecrement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stockDecrement(nil), s.done...)
}

type fixedSigner struct{}

func (fixedSigner) URL(id uuid.UUID) (string, error) {
	return "https://shop.test/orders/" + id.String() + "?token=t", nil
}

// --- Fixture ---

type fixture struct {
	store    *memory.Store
	sessions *memory.SessionStore
	notifier *event.Notifier
	carts    *CartService
	checkout *CheckoutService
	merge    *MergeService
	charges  *atomic.Int32
	stock    *recordingStock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	charges := new(atomic.Int32)
	stock := &recordingStock{}

	reg := registry.New()
	require.NoError(t, variants.RegisterDefaults(reg, variants.Deps{Stock: stock}))
	reg.MustRegister(registry.PaymentMethod, "counting_card", registry.Handler{New: func() any { return &countingCard{calls: charges} }})
	reg.MustRegister(registry.PaymentMethod, "broken_card", registry.Handler{New: func() any { return &brokenCard{} }})
	reg.MustRegister(registry.LineItem, "panicky_item", registry.Handler{New: func() any { return &panickyItem{} }})
	reg.Freeze()

	log := logger.NewWithWriter("cartengine-test", "error", io.Discard)
	store := memory.NewStore(reg)
	sessions := memory.NewSessionStore()
	engine := completeness.NewEngine()
	notifier := event.NewNotifier(log)

	return &fixture{
		store:    store,
		sessions: sessions,
		notifier: notifier,
		carts:    NewCartService(store, sessions, reg, engine, log),
		checkout: NewCheckoutService(store, engine, notifier, log),
		merge:    NewMergeService(store, sessions, log),
		charges:  charges,
		stock:    stock,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(price string, qty int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"product_id":"p-%s","name":"Item %s","unit_price":%q,"quantity":%d}`, price, price, price, qty))
}

var postal = json.RawMessage(`{"name":"Ada Lovelace","line1":"1 Main St","city":"London","postcode":"N1 1AA","country":"GB"}`)

func (f *fixture) userCart(t *testing.T, userID string) *domain.Cart {
	t.Helper()
	cart, err := f.carts.Resolve(context.Background(), Principal{UserID: userID}, true)
	require.NoError(t, err)
	return cart
}

func (f *fixture) addItem(t *testing.T, cartID uuid.UUID, price string, qty int) *domain.LineItem {
	t.Helper()
	item, err := f.carts.AddItem(context.Background(), cartID, variants.TagProductItem, product(price, qty))
	require.NoError(t, err)
	return item
}

func (f *fixture) addAddress(t *testing.T, cartID uuid.UUID) *domain.DeliveryAddress {
	t.Helper()
	addr, err := f.carts.AddDeliveryAddress(context.Background(), cartID, variants.TagPostalAddress, postal)
	require.NoError(t, err)
	return addr
}

func (f *fixture) addMethod(t *testing.T, cartID uuid.UUID, tag, raw string) *domain.PaymentMethod {
	t.Helper()
	m, err := f.carts.AddPaymentMethod(context.Background(), cartID, tag, json.RawMessage(raw))
	require.NoError(t, err)
	return m
}

// completeCart is a user cart with one 50.00 x 2 item, an address and a
// counting card.
func (f *fixture) completeCart(t *testing.T, userID string) *domain.Cart {
	t.Helper()
	cart := f.userCart(t, userID)
	f.addItem(t, cart.ID, "50.00", 2)
	f.addAddress(t, cart.ID)
	f.addMethod(t, cart.ID, "counting_card", `{}`)

	cart, err := f.store.Repositories().Carts.GetByID(context.Background(), cart.ID)
	require.NoError(t, err)
	return cart
}

func (f *fixture) cartItems(t *testing.T, cartID uuid.UUID) []*domain.LineItem {
	t.Helper()
	items, err := f.store.Repositories().LineItems.ListByCart(context.Background(), cartID, false)
	require.NoError(t, err)
	return items
}

// captureOrderID records the ID of every order shell checkout creates.
func (f *fixture) captureOrderID() *uuid.UUID {
	var id uuid.UUID
	f.checkout.WithInvoiceIDs(func(_ context.Context, o *domain.Order) (string, error) {
		id = o.ID
		return "", nil
	})
	return &id
}
