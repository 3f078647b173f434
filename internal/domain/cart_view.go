package domain

import "github.com/shopspring/decimal"

// CartView is a cart together with everything it references, loaded in one
// go. It is what completeness checkers inspect and what checkout and the
// HTTP layer compute totals from.
type CartView struct {
	Cart            *Cart
	Items           []*LineItem
	Adjustments     []*Adjustment
	PaymentMethod   *PaymentMethod
	DeliveryAddress *DeliveryAddress
}

// Subtotal sums the line item totals.
func (v *CartView) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range v.Items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// GrandTotal is the subtotal plus every adjustment computed against it.
func (v *CartView) GrandTotal() decimal.Decimal {
	subtotal := v.Subtotal()
	total := subtotal
	for _, a := range v.Adjustments {
		total = total.Add(a.Total(subtotal))
	}
	return total
}
