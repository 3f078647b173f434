package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Owned holds the cart/order ownership and frozen total shared by line
// items and adjustments, and enforces their lifecycle:
//
//   - exactly one of CartID and OrderID is set when saved;
//   - once saved with an order the record is frozen, except for the single
//     save that follows AttachToOrder;
//   - TotalWhenCharged is written once.
type Owned struct {
	CartID           *uuid.UUID       `json:"cart_id,omitempty"`
	OrderID          *uuid.UUID       `json:"order_id,omitempty"`
	TotalWhenCharged *decimal.Decimal `json:"total_when_charged,omitempty"`

	persistedOrder bool
	justMigrated   bool
}

// MarkPersisted records the ownership loaded from storage. Repositories call
// it after scanning a row.
func (o *Owned) MarkPersisted() {
	o.persistedOrder = o.OrderID != nil
	o.justMigrated = false
}

// Frozen reports whether the record already belongs to a stored order.
func (o *Owned) Frozen() bool {
	return o.persistedOrder
}

// FreezeTotal records the total charged for the record.
func (o *Owned) FreezeTotal(total decimal.Decimal) error {
	if o.TotalWhenCharged != nil {
		return ErrTotalFrozen
	}
	t := total
	o.TotalWhenCharged = &t
	return nil
}

// MoveToCart reassigns a cart-owned record to another cart.
func (o *Owned) MoveToCart(cartID uuid.UUID) error {
	if o.OrderID != nil {
		return ErrFrozen
	}
	id := cartID
	o.CartID = &id
	return nil
}

// AttachToOrder moves the record from its cart to orderID and allows exactly
// one subsequent save.
func (o *Owned) AttachToOrder(orderID uuid.UUID) error {
	if o.OrderID != nil {
		return ErrFrozen
	}
	id := orderID
	o.CartID = nil
	o.OrderID = &id
	o.justMigrated = true
	return nil
}

// BeforeSave validates the record may be written and consumes the one-shot
// migration allowance. Repositories call it before every insert or update.
func (o *Owned) BeforeSave() error {
	if (o.CartID == nil) == (o.OrderID == nil) {
		return ErrOwnership
	}
	if o.persistedOrder && !o.justMigrated {
		return ErrFrozen
	}
	if o.OrderID != nil && !o.justMigrated {
		return ErrFrozen
	}
	o.justMigrated = false
	o.persistedOrder = o.OrderID != nil
	return nil
}
