package completeness

import (
	"context"

	"github.com/utafrali/cartengine/internal/domain"
)

// Field names reported by the default checkers.
const (
	FieldDeliveryAddress = "delivery_address"
	FieldPaymentMethod   = "payment_method"
	FieldItems           = "items"
	FieldEmail           = "email"
)

// DefaultCheckers returns the standard chain: delivery address, payment
// method, items, then guest email.
func DefaultCheckers() []Checker {
	return []Checker{
		DeliveryAddressRequired,
		PaymentMethodRequired,
		ItemsRequired,
		EmailRequiredForGuests,
	}
}

// DeliveryAddressRequired fails when no active delivery address is selected.
func DeliveryAddressRequired(_ context.Context, v *domain.CartView) domain.ErrorSet {
	if v.DeliveryAddress == nil || !v.DeliveryAddress.Active {
		return domain.ErrorSet{domain.FieldError(domain.CodeNotSet, "A delivery address is required.", FieldDeliveryAddress)}
	}
	return nil
}

// PaymentMethodRequired fails when no active payment method is selected.
func PaymentMethodRequired(_ context.Context, v *domain.CartView) domain.ErrorSet {
	if v.PaymentMethod == nil || !v.PaymentMethod.Active {
		return domain.ErrorSet{domain.FieldError(domain.CodeNotSet, "A payment method is required.", FieldPaymentMethod)}
	}
	return nil
}

// ItemsRequired fails on an empty cart.
func ItemsRequired(_ context.Context, v *domain.CartView) domain.ErrorSet {
	if len(v.Items) == 0 {
		return domain.ErrorSet{domain.FieldError(domain.CodeEmpty, "There are no items in the cart.", FieldItems)}
	}
	return nil
}

// EmailRequiredForGuests fails when an anonymous cart has no email.
func EmailRequiredForGuests(_ context.Context, v *domain.CartView) domain.ErrorSet {
	if v.Cart.Anonymous() && v.Cart.Email == "" {
		return domain.ErrorSet{domain.FieldError(domain.CodeNotSet, "An email address is required.", FieldEmail)}
	}
	return nil
}
