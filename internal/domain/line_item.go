package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItem is a priced entry in a cart or, after checkout, an order. Type is
// the registry tag of Data.
type LineItem struct {
	ID        uuid.UUID    `json:"id"`
	Type      string       `json:"type"`
	Data      LineItemData `json:"data"`
	CreatedAt time.Time    `json:"created_at"`
	Owned
}

// NewLineItem creates a line item in cartID.
func NewLineItem(cartID uuid.UUID, tag string, data LineItemData) *LineItem {
	id := cartID
	return &LineItem{
		ID:        uuid.New(),
		Type:      tag,
		Data:      data,
		CreatedAt: time.Now().UTC(),
		Owned:     Owned{CartID: &id},
	}
}

// Total is the frozen total for order items and the live total otherwise.
func (li *LineItem) Total() decimal.Decimal {
	if li.TotalWhenCharged != nil {
		return *li.TotalWhenCharged
	}
	return li.Data.Total()
}

// Adjustment modifies the subtotal of a cart or order, e.g. a discount.
type Adjustment struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Data      AdjustmentData `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	Owned
}

// NewAdjustment creates an adjustment in cartID.
func NewAdjustment(cartID uuid.UUID, tag string, data AdjustmentData) *Adjustment {
	id := cartID
	return &Adjustment{
		ID:        uuid.New(),
		Type:      tag,
		Data:      data,
		CreatedAt: time.Now().UTC(),
		Owned:     Owned{CartID: &id},
	}
}

// Total is the frozen total for order adjustments and the live total
// against subtotal otherwise.
func (a *Adjustment) Total(subtotal decimal.Decimal) decimal.Decimal {
	if a.TotalWhenCharged != nil {
		return *a.TotalWhenCharged
	}
	return a.Data.Total(subtotal)
}
