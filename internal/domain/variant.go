package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// LineItemData is the payload of a line item variant registered by the host.
// Total must be a pure function of the variant's own fields.
type LineItemData interface {
	Total() decimal.Decimal
}

// AdjustmentData is the payload of an adjustment variant. Its total depends
// on the cart subtotal, so it is only computed once every item is summed.
type AdjustmentData interface {
	Total(subtotal decimal.Decimal) decimal.Decimal
}

// PaymentMethodData is the payload of a payment method variant.
//
// MakePayment must either return a Payment created with NewPayment for
// req.Method, or an error. A *PaymentError is a user-correctable decline;
// anything else aborts checkout opaquely.
type PaymentMethodData interface {
	MakePayment(ctx context.Context, req ChargeRequest) (*Payment, error)
}

// DeliveryAddressData is the payload of a delivery address variant.
type DeliveryAddressData interface {
	Lines() []string
}

// CompletenessChecker is implemented by line item variants that have their
// own readiness rules, such as stock. With forCheckout set the variant may
// take locks on whatever it reads, since the checkout transaction is open.
type CompletenessChecker interface {
	CheckComplete(ctx context.Context, forCheckout bool) ErrorSet
}

// CheckoutPreparer is implemented by line item variants with work to do once
// the item belongs to an order. It runs inside the checkout transaction, so
// it must only have effects that roll back with it; calls to other services
// belong in a post-checkout subscriber. It must not fail; anything that could
// fail belongs in CheckComplete.
type CheckoutPreparer interface {
	PrepareForCheckout(ctx context.Context)
}
