package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/internal/repository"
	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

// --- Test Helpers ---

type testItem struct {
	Name  string          `json:"name" validate:"required"`
	Price decimal.Decimal `json:"price"`
}

func (i *testItem) Total() decimal.Decimal { return i.Price }

type testCard struct {
	Token string `json:"token" validate:"required"`
}

func (c *testCard) MakePayment(_ context.Context, req domain.ChargeRequest) (*domain.Payment, error) {
	return domain.NewPayment(req, nil), nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.LineItem, "test_item", registry.Handler{New: func() any { return &testItem{} }}))
	require.NoError(t, reg.Register(registry.PaymentMethod, "test_card", registry.Handler{New: func() any { return &testCard{} }}))
	reg.Freeze()
	return reg
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var ownedCols = []string{"id", "cart_id", "order_id", "type", "data", "total_when_charged", "created_at"}

// --- Cart ---

func TestCartRepository_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewCartRepository(mock)
	c := domain.NewCart("user-1")

	mock.ExpectExec("INSERT INTO carts").
		WithArgs(c.ID, c.UserID, "", pgxmock.AnyArg(), pgxmock.AnyArg(), c.CreatedAt, c.UpdatedAt).
		WillReturnResult(database.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepository_Create_SecondCartForUser(t *testing.T) {
	mock := newMock(t)
	repo := NewCartRepository(mock)
	c := domain.NewCart("user-1")

	mock.ExpectExec("INSERT INTO carts").
		WillReturnError(errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"))

	err := repo.Create(context.Background(), c)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepository_GetForUpdate(t *testing.T) {
	mock := newMock(t)
	repo := NewCartRepository(mock)
	id := uuid.New()
	method := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery(regexp.QuoteMeta("FROM carts WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "email", "delivery_address_id", "payment_method_id", "created_at", "updated_at"}).
			AddRow(id, nil, "guest@example.com", nil, method.String(), now, now))

	c, err := repo.GetForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, c.Anonymous())
	assert.Equal(t, "guest@example.com", c.Email)
	assert.Nil(t, c.DeliveryAddressID)
	require.NotNil(t, c.PaymentMethodID)
	assert.Equal(t, method, *c.PaymentMethodID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepository_GetByUserID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewCartRepository(mock)

	mock.ExpectQuery("FROM carts WHERE user_id").
		WithArgs("user-404").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByUserID(context.Background(), "user-404")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepository_Delete_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewCartRepository(mock)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM carts").WithArgs(id).WillReturnResult(database.NewResult("DELETE", 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), id), apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepository_ClearPaymentMethod(t *testing.T) {
	mock := newMock(t)
	repo := NewCartRepository(mock)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE carts SET payment_method_id = NULL")).
		WithArgs(id).
		WillReturnResult(database.NewResult("UPDATE", 2))

	require.NoError(t, repo.ClearPaymentMethod(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Line items ---

func TestLineItemRepository_Save_CartOwned(t *testing.T) {
	mock := newMock(t)
	repo := NewLineItemRepository(mock, testRegistry(t))
	li := domain.NewLineItem(uuid.New(), "", &testItem{Name: "Pen", Price: decimal.NewFromInt(3)})

	mock.ExpectExec("INSERT INTO line_items").
		WithArgs(li.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), "test_item", pgxmock.AnyArg(), pgxmock.AnyArg(), li.CreatedAt).
		WillReturnResult(database.NewResult("INSERT", 1))

	require.NoError(t, repo.Save(context.Background(), li))
	assert.Equal(t, "test_item", li.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLineItemRepository_Save_FrozenItemNeverReachesDB(t *testing.T) {
	mock := newMock(t)
	repo := NewLineItemRepository(mock, testRegistry(t))
	orderID := uuid.New()
	li := &domain.LineItem{ID: uuid.New(), Data: &testItem{Name: "Pen"}, Owned: domain.Owned{OrderID: &orderID}}
	li.MarkPersisted()

	err := repo.Save(context.Background(), li)
	assert.ErrorIs(t, err, domain.ErrFrozen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLineItemRepository_Save_UnregisteredType(t *testing.T) {
	mock := newMock(t)
	repo := NewLineItemRepository(mock, testRegistry(t))
	li := domain.NewLineItem(uuid.New(), "", &stray{})

	var unknown *registry.UnknownTypeError
	assert.ErrorAs(t, repo.Save(context.Background(), li), &unknown)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stray struct{}

func (*stray) Total() decimal.Decimal { return decimal.Zero }

func TestLineItemRepository_ListByCart_ForUpdate(t *testing.T) {
	mock := newMock(t)
	repo := NewLineItemRepository(mock, testRegistry(t))
	cartID := uuid.New()
	now := time.Now().UTC()
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE cart_id = $1 ORDER BY created_at, id FOR UPDATE")).
		WithArgs(cartID).
		WillReturnRows(pgxmock.NewRows(ownedCols).
			AddRow(first, cartID.String(), nil, "test_item", []byte(`{"name":"Pen","price":"3.50"}`), nil, now).
			AddRow(second, cartID.String(), nil, "test_item", []byte(`{"name":"Ink","price":"1.25"}`), nil, now.Add(time.Second)))

	items, err := repo.ListByCart(context.Background(), cartID, true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first, items[0].ID)
	assert.Equal(t, "3.5", items[0].Total().String())
	assert.Equal(t, cartID, *items[1].CartID)
	assert.False(t, items[1].Frozen())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLineItemRepository_ListByOrder_LoadsFrozenItems(t *testing.T) {
	mock := newMock(t)
	repo := NewLineItemRepository(mock, testRegistry(t))
	orderID := uuid.New()
	charged := decimal.NullDecimal{Decimal: decimal.RequireFromString("3.50"), Valid: true}

	mock.ExpectQuery("FROM line_items WHERE order_id").
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows(ownedCols).
			AddRow(uuid.New(), nil, orderID.String(), "test_item", []byte(`{"name":"Pen","price":"9.99"}`), charged, time.Now()))

	items, err := repo.ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Frozen())
	assert.Equal(t, "3.50", domain.FormatMoney(items[0].Total()))
	assert.ErrorIs(t, items[0].BeforeSave(), domain.ErrFrozen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLineItemRepository_ListByCart_UnknownTag(t *testing.T) {
	mock := newMock(t)
	repo := NewLineItemRepository(mock, testRegistry(t))
	cartID := uuid.New()

	mock.ExpectQuery("FROM line_items WHERE cart_id").
		WithArgs(cartID).
		WillReturnRows(pgxmock.NewRows(ownedCols).
			AddRow(uuid.New(), cartID.String(), nil, "gift_wrap", []byte(`{}`), nil, time.Now()))

	_, err := repo.ListByCart(context.Background(), cartID, false)
	var unknown *registry.UnknownTypeError
	assert.ErrorAs(t, err, &unknown)
}

func TestLineItemRepository_Delete_OnlyFromCart(t *testing.T) {
	mock := newMock(t)
	repo := NewLineItemRepository(mock, testRegistry(t))
	id, cartID := uuid.New(), uuid.New()

	mock.ExpectExec("DELETE FROM line_items").WithArgs(id, cartID).WillReturnResult(database.NewResult("DELETE", 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), id, cartID), apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Payment methods ---

func TestPaymentMethodRepository_GetByID_DecodesPayload(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentMethodRepository(mock, testRegistry(t))
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_methods WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "type", "active", "data", "created_at"}).
			AddRow(id, "user-1", "test_card", false, []byte(`{"token":"tok_1"}`), time.Now()))

	m, err := repo.GetByID(context.Background(), id, true)
	require.NoError(t, err)
	assert.False(t, m.Active)
	assert.Equal(t, "user-1", *m.UserID)
	card, ok := m.Data.(*testCard)
	require.True(t, ok)
	assert.Equal(t, "tok_1", card.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentMethodRepository_Update_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentMethodRepository(mock, testRegistry(t))
	m := domain.NewPaymentMethod("user-1", "test_card", &testCard{Token: "tok"})

	mock.ExpectExec("UPDATE payment_methods").
		WithArgs(m.ID, m.UserID, true, pgxmock.AnyArg()).
		WillReturnResult(database.NewResult("UPDATE", 0))

	assert.ErrorIs(t, repo.Update(context.Background(), m), apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentMethodRepository_ListActiveByUser(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentMethodRepository(mock, testRegistry(t))
	first, second := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_methods WHERE user_id = $1 AND active ORDER BY created_at, id")).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "type", "active", "data", "created_at"}).
			AddRow(first, "user-1", "test_card", true, []byte(`{"token":"tok_1"}`), now).
			AddRow(second, "user-1", "test_card", true, []byte(`{"token":"tok_2"}`), now.Add(time.Second)))

	methods, err := repo.ListActiveByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, first, methods[0].ID)
	assert.Equal(t, "tok_2", methods[1].Data.(*testCard).Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Orders & payments ---

func TestOrderRepository_CreateAndUpdate(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)
	o := domain.NewOrder(domain.NewCart(""), decimal.RequireFromString("75.00"))

	mock.ExpectExec("INSERT INTO orders").
		WithArgs(o.ID, o.UserID, "", o.GrandTotal, "", pgxmock.AnyArg(), pgxmock.AnyArg(), o.CreatedAt).
		WillReturnResult(database.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE orders SET delivery_address_id").
		WithArgs(o.ID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(database.NewResult("UPDATE", 1))

	require.NoError(t, repo.Create(context.Background(), o))
	payment := uuid.New()
	o.PaymentID = &payment
	require.NoError(t, repo.Update(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Create_InvoiceIDTaken(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)
	o := domain.NewOrder(domain.NewCart("user-1"), decimal.RequireFromString("75.00"))
	o.CustomInvoiceID = "INV-20261016-3F2A9C1B7D04E6A5"

	mock.ExpectExec("INSERT INTO orders").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_orders_custom_invoice_id"})

	err := repo.Create(context.Background(), o)
	assert.ErrorIs(t, err, domain.ErrInvoiceIDTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)
	id, payment := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM orders WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "guest_email", "grand_total", "custom_invoice_id", "delivery_address_id", "payment_id", "created_at"}).
			AddRow(id, "user-1", "", decimal.RequireFromString("75.00"), "INV-7", nil, payment.String(), time.Now()))

	o, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "INV-7", o.InvoiceID())
	assert.Equal(t, payment, *o.PaymentID)
	assert.Nil(t, o.DeliveryAddressID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByID_RawData(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	id, method := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM payments WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "method_id", "type", "amount", "data", "created_at"}).
			AddRow(id, method, "test_card", decimal.NewFromInt(10), []byte(`{"ref":"ch_1"}`), time.Now()))

	p, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, method, p.MethodID)
	assert.JSONEq(t, `{"ref":"ch_1"}`, string(p.Data.(json.RawMessage)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Store ---

func TestStore_InTx_CommitsOnSuccess(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, testRegistry(t))
	id := uuid.New()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectExec("DELETE FROM carts").WithArgs(id).WillReturnResult(database.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		return repos.Carts.Delete(ctx, id)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, testRegistry(t))
	declined := errors.New("declined")

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(context.Context, repository.Repositories) error {
		return declined
	})
	assert.ErrorIs(t, err, declined)
	assert.NoError(t, mock.ExpectationsWereMet())
}
