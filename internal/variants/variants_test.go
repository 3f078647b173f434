package variants

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/event"
	"github.com/utafrali/cartengine/internal/registry"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/httpclient"
	"github.com/utafrali/cartengine/pkg/logger"
)

// --- Mocks ---

type mockStock struct {
	mock.Mock
}

func (m *mockStock) InStock(ctx context.Context, productID, variantID string, quantity int) (bool, error) {
	args := m.Called(ctx, productID, variantID, quantity)
	return args.Bool(0), args.Error(1)
}

func (m *mockStock) Decrement(ctx context.Context, productID, variantID string, quantity int, key string) error {
	args := m.Called(ctx, productID, variantID, quantity, key)
	return args.Error(0)
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func chargeRequest(method domain.PaymentMethodData, tag string, amount string) domain.ChargeRequest {
	cart := domain.NewCart("user-1")
	return domain.ChargeRequest{
		Method: domain.NewPaymentMethod("user-1", tag, method),
		Order:  domain.NewOrder(cart, dec(amount)),
		Amount: dec(amount),
	}
}

func newGateway(t *testing.T, h http.HandlerFunc) *CardGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	return NewCardGateway(httpclient.New(cfg), srv.URL)
}

// --- ProductItem ---

func TestProductItem_Total(t *testing.T) {
	p := &ProductItem{UnitPrice: dec("19.99"), Quantity: 3}
	assert.True(t, dec("59.97").Equal(p.Total()))
}

func TestProductItem_CheckComplete_BrowsingSkipsStock(t *testing.T) {
	stock := new(mockStock)
	p := &ProductItem{ProductID: "p-1", Name: "Mug", Quantity: 2, stock: stock}

	assert.Empty(t, p.CheckComplete(context.Background(), false))
	stock.AssertNotCalled(t, "InStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProductItem_CheckComplete(t *testing.T) {
	tests := []struct {
		name      string
		available bool
		err       error
		wantMsg   string
	}{
		{name: "in stock", available: true},
		{name: "short", available: false, wantMsg: "There are not enough Mug in stock."},
		{name: "inventory down", err: errors.New("connection refused"), wantMsg: "Stock for Mug could not be confirmed."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stock := new(mockStock)
			stock.On("InStock", mock.Anything, "p-1", "v-1", 2).Return(tc.available, tc.err)
			p := &ProductItem{ProductID: "p-1", VariantID: "v-1", Name: "Mug", Quantity: 2, stock: stock}

			errs := p.CheckComplete(context.Background(), true)
			if tc.wantMsg == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Equal(t, CodeOutOfStock, errs[0].Code)
			assert.Equal(t, "items", errs[0].FieldName())
			assert.Equal(t, tc.wantMsg, errs[0].Message)
		})
	}
}

// --- StockSubscriber ---

type giftWrap struct{}

func (giftWrap) Total() decimal.Decimal { return dec("2.50") }

func placedOrder(items ...*domain.LineItem) event.OrderCheckedOut {
	cart := domain.NewCart("user-1")
	return event.OrderCheckedOut{CartID: cart.ID, Order: domain.NewOrder(cart, dec("10.00")), Items: items}
}

func TestStockSubscriber_DecrementsProductLines(t *testing.T) {
	cartID := domain.NewCart("user-1").ID
	mug := domain.NewLineItem(cartID, TagProductItem, &ProductItem{ProductID: "p-1", VariantID: "v-1", Name: "Mug", Quantity: 2})
	other := domain.NewLineItem(cartID, "gift_wrap", giftWrap{})
	evt := placedOrder(mug, other)

	stock := new(mockStock)
	stock.On("Decrement", mock.Anything, "p-1", "v-1", 2, evt.Order.ID.String()+":"+mug.ID.String()).Return(nil).Once()

	result, err := StockSubscriber(stock)(context.Background(), evt)
	require.NoError(t, err)
	assert.Nil(t, result)
	stock.AssertExpectations(t)
}

func TestStockSubscriber_ReportsFailures(t *testing.T) {
	cartID := domain.NewCart("user-1").ID
	a := domain.NewLineItem(cartID, TagProductItem, &ProductItem{ProductID: "p-1", Name: "Mug", Quantity: 1})
	b := domain.NewLineItem(cartID, TagProductItem, &ProductItem{ProductID: "p-2", Name: "Bowl", Quantity: 4})

	stock := new(mockStock)
	stock.On("Decrement", mock.Anything, "p-1", "", 1, mock.Anything).Return(errors.New("inventory offline"))
	stock.On("Decrement", mock.Anything, "p-2", "", 4, mock.Anything).Return(nil)

	_, err := StockSubscriber(stock)(context.Background(), placedOrder(a, b))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p-1")
	assert.Contains(t, err.Error(), "inventory offline")
	stock.AssertNumberOfCalls(t, "Decrement", 2)
}

// --- InventoryClient ---

func TestInventoryClient(t *testing.T) {
	var decrementBody map[string]any
	var decrementKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-42", r.Header.Get("X-Correlation-ID"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/inventory/check":
			_, _ = io.WriteString(w, `{"data":{"all_available":true}}`)
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/inventory/p-1/variants/v-1":
			decrementKey = r.Header.Get(httpclient.IdempotencyKeyHeader)
			_ = json.NewDecoder(r.Body).Decode(&decrementBody)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewInventoryClient(httpclient.New(httpclient.DefaultConfig()), srv.URL)
	ctx := logger.WithCorrelationID(context.Background(), "req-42")

	ok, err := c.InStock(ctx, "p-1", "v-1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Decrement(ctx, "p-1", "v-1", 2, "order-1:item-1"))
	assert.Equal(t, float64(-2), decrementBody["delta"])
	assert.Equal(t, "order", decrementBody["reason"])
	assert.Equal(t, "order-1:item-1", decrementKey)
}

func TestInventoryClient_DecrementRetriesReuseKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(httpclient.IdempotencyKeyHeader))
		if len(keys) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := httpclient.DefaultConfig()
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = time.Millisecond
	c := NewInventoryClient(httpclient.New(cfg), srv.URL)

	require.NoError(t, c.Decrement(context.Background(), "p-1", "v-1", 2, "order-1:item-1"))
	assert.Equal(t, []string{"order-1:item-1", "order-1:item-1"}, keys)
}

func TestInventoryClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"product p-9"}}`)
	}))
	defer srv.Close()

	c := NewInventoryClient(httpclient.New(httpclient.DefaultConfig()), srv.URL)
	_, err := c.InStock(context.Background(), "p-9", "", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- PercentageDiscount ---

func TestPercentageDiscount_Total(t *testing.T) {
	tests := []struct {
		pct, subtotal, want string
	}{
		{"25", "100.00", "-25.00"},
		{"10", "19.99", "-1.99"},
		{"33.3", "10.00", "-3.33"},
		{"100", "42.50", "-42.50"},
	}
	for _, tc := range tests {
		d := &PercentageDiscount{Percentage: dec(tc.pct)}
		got := d.Total(dec(tc.subtotal))
		assert.True(t, dec(tc.want).Equal(got), "%s%% of %s: got %s", tc.pct, tc.subtotal, got)
	}
}

// --- PostalAddress ---

func TestPostalAddress_Lines(t *testing.T) {
	a := &PostalAddress{Name: "Ada", Line1: "1 Main St", City: "Leeds", Postcode: "LS1", Country: "gb"}
	assert.Equal(t, []string{"Ada", "1 Main St", "Leeds LS1", "GB"}, a.Lines())

	a.Line2 = "Flat 2"
	assert.Equal(t, []string{"Ada", "1 Main St", "Flat 2", "Leeds LS1", "GB"}, a.Lines())
}

// --- PipeCard ---

func TestPipeCard_MakePayment(t *testing.T) {
	card := &PipeCard{CardID: "card-1"}
	req := chargeRequest(card, TagPipeCard, "50.00")

	payment, err := card.MakePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Method.ID, payment.MethodID)
	assert.True(t, dec("50.00").Equal(payment.Amount))
	receipt, ok := payment.Data.(PipeReceipt)
	require.True(t, ok)
	assert.Contains(t, receipt.ChargeID, "pipe_")
}

func TestPipeCard_Declined(t *testing.T) {
	card := &PipeCard{CardID: "card-9"}
	_, err := card.MakePayment(context.Background(), chargeRequest(card, TagPipeCard, "50.00"))

	var payErr *domain.PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, "Insufficient funds", payErr.Info)
}

// --- GatewayCard ---

func TestGatewayCard_MakePayment(t *testing.T) {
	var got ChargeInput
	var idemKey string
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges", r.URL.Path)
		idemKey = r.Header.Get(httpclient.IdempotencyKeyHeader)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"charge_id":"ch_1","last4":"4242","brand":"visa"}`)
	})

	card := &GatewayCard{CardToken: "tok_1", Reusable: true, gateway: gw}
	req := chargeRequest(card, TagGatewayCard, "75.00")

	payment, err := card.MakePayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.Order.ID.String(), idemKey)
	assert.Equal(t, "75.00", got.Amount)
	assert.Equal(t, "tok_1", got.CardToken)
	assert.Equal(t, req.Order.InvoiceID(), got.InvoiceID)
	assert.Equal(t, &ChargeResult{ChargeID: "ch_1", Last4: "4242", Brand: "visa"}, payment.Data)
	assert.True(t, req.Method.Active)
}

func TestGatewayCard_SingleUseIsDeactivated(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"charge_id":"ch_2"}`)
	})
	card := &GatewayCard{CardToken: "tok_2", gateway: gw}
	req := chargeRequest(card, TagGatewayCard, "10.00")

	_, err := card.MakePayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, req.Method.Active)
}

func TestGatewayCard_Declined(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"error":{"code":"card_declined","message":"Card declined","info":{"decline_code":"do_not_honor"}}}`)
	})
	card := &GatewayCard{CardToken: "tok_3", gateway: gw}
	req := chargeRequest(card, TagGatewayCard, "10.00")

	_, err := card.MakePayment(context.Background(), req)

	var payErr *domain.PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, "Card declined", payErr.Message)
	assert.JSONEq(t, `{"decline_code":"do_not_honor"}`, string(payErr.Info.(json.RawMessage)))
	assert.True(t, req.Method.Active)
}

func TestGatewayCard_ServerError(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	card := &GatewayCard{CardToken: "tok_4", gateway: gw}

	_, err := card.MakePayment(context.Background(), chargeRequest(card, TagGatewayCard, "10.00"))
	require.Error(t, err)

	var payErr *domain.PaymentError
	assert.False(t, errors.As(err, &payErr))
}

func TestGatewayCard_GatewayFaultIsOpaque(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":"AUTH","message":"invalid api key sk_live_abc"}}`)
	})
	card := &GatewayCard{CardToken: "tok_6", gateway: gw}

	_, err := card.MakePayment(context.Background(), chargeRequest(card, TagGatewayCard, "10.00"))
	require.Error(t, err)
	assert.Equal(t, "card gateway status 401", err.Error())

	var appErr *apperrors.AppError
	assert.False(t, errors.As(err, &appErr))
	var payErr *domain.PaymentError
	assert.False(t, errors.As(err, &payErr))
}

func TestGatewayCard_NoGateway(t *testing.T) {
	card := &GatewayCard{CardToken: "tok_5"}
	_, err := card.MakePayment(context.Background(), chargeRequest(card, TagGatewayCard, "10.00"))

	var payErr *domain.PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, "Card payments are currently unavailable.", payErr.Message)
	assert.True(t, payErr.Info != nil)
}

// --- RegisterDefaults ---

func TestRegisterDefaults(t *testing.T) {
	stock := new(mockStock)
	reg := registry.New()
	require.NoError(t, RegisterDefaults(reg, Deps{Stock: stock}))

	assert.ElementsMatch(t, []string{TagGatewayCard, TagPipeCard}, reg.Tags(registry.PaymentMethod))

	item, err := reg.DecodeLineItem(TagProductItem, json.RawMessage(`{"product_id":"p-1","name":"Mug","unit_price":"4.50","quantity":2}`))
	require.NoError(t, err)
	product := item.(*ProductItem)
	assert.Same(t, stock, product.stock.(*mockStock))
	assert.True(t, dec("9.00").Equal(product.Total()))

	_, err = reg.DecodeAdjustment(TagPercentageDiscount, json.RawMessage(`{"percentage":"150"}`))
	assert.Error(t, err)

	_, err = reg.DecodeDeliveryAddress(TagPostalAddress, json.RawMessage(`{"name":"Ada","line1":"x","city":"y","postcode":"z","country":"GB","floor":3}`))
	assert.Error(t, err)

	assert.Error(t, RegisterDefaults(reg, Deps{}), "registering twice must fail")
}
