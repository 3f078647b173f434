package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flatItem struct{ price decimal.Decimal }

func (f *flatItem) Total() decimal.Decimal { return f.price }

func TestBeforeSave_CartOwnedSavesRepeatedly(t *testing.T) {
	li := NewLineItem(uuid.New(), "flat", &flatItem{price: decimal.NewFromInt(5)})

	require.NoError(t, li.BeforeSave())
	li.MarkPersisted()
	require.NoError(t, li.BeforeSave())
	assert.False(t, li.Frozen())
}

func TestBeforeSave_RejectsBothOrNeitherOwner(t *testing.T) {
	neither := &Owned{}
	assert.ErrorIs(t, neither.BeforeSave(), ErrOwnership)

	cart, order := uuid.New(), uuid.New()
	both := &Owned{CartID: &cart, OrderID: &order}
	assert.ErrorIs(t, both.BeforeSave(), ErrOwnership)
}

func TestAttachToOrder_AllowsExactlyOneSave(t *testing.T) {
	li := NewLineItem(uuid.New(), "flat", &flatItem{price: decimal.NewFromInt(5)})
	li.MarkPersisted()

	orderID := uuid.New()
	require.NoError(t, li.AttachToOrder(orderID))
	assert.Nil(t, li.CartID)
	assert.Equal(t, orderID, *li.OrderID)

	require.NoError(t, li.BeforeSave())
	assert.True(t, li.Frozen())
	assert.ErrorIs(t, li.BeforeSave(), ErrFrozen)
}

func TestAttachToOrder_LoadedOrderRecordIsFrozen(t *testing.T) {
	orderID := uuid.New()
	adj := &Adjustment{Owned: Owned{OrderID: &orderID}}
	adj.MarkPersisted()

	assert.True(t, adj.Frozen())
	assert.ErrorIs(t, adj.BeforeSave(), ErrFrozen)
	assert.ErrorIs(t, adj.AttachToOrder(uuid.New()), ErrFrozen)
	assert.ErrorIs(t, adj.MoveToCart(uuid.New()), ErrFrozen)
}

func TestBeforeSave_OrderOwnedWithoutMigrationIsFrozen(t *testing.T) {
	orderID := uuid.New()
	o := &Owned{OrderID: &orderID}
	assert.ErrorIs(t, o.BeforeSave(), ErrFrozen)
}

func TestMoveToCart(t *testing.T) {
	li := NewLineItem(uuid.New(), "flat", &flatItem{})
	target := uuid.New()

	require.NoError(t, li.MoveToCart(target))
	assert.Equal(t, target, *li.CartID)
	require.NoError(t, li.BeforeSave())
}

func TestFreezeTotal_Once(t *testing.T) {
	li := NewLineItem(uuid.New(), "flat", &flatItem{price: decimal.NewFromInt(10)})

	require.NoError(t, li.FreezeTotal(decimal.NewFromInt(10)))
	assert.ErrorIs(t, li.FreezeTotal(decimal.NewFromInt(11)), ErrTotalFrozen)
	assert.True(t, decimal.NewFromInt(10).Equal(*li.TotalWhenCharged))
}

func TestLineItemTotal_PrefersFrozenTotal(t *testing.T) {
	data := &flatItem{price: decimal.NewFromInt(10)}
	li := NewLineItem(uuid.New(), "flat", data)
	require.NoError(t, li.FreezeTotal(decimal.NewFromInt(10)))

	data.price = decimal.NewFromInt(99)
	assert.True(t, decimal.NewFromInt(10).Equal(li.Total()))
}
