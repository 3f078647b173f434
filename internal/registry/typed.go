package registry

import (
	"encoding/json"
	"fmt"

	"github.com/utafrali/cartengine/internal/domain"
)

// DecodeLineItem decodes a line item payload.
func (r *Registry) DecodeLineItem(tag string, raw json.RawMessage) (domain.LineItemData, error) {
	return decodeAs[domain.LineItemData](r, LineItem, tag, raw)
}

// DecodeAdjustment decodes an adjustment payload.
func (r *Registry) DecodeAdjustment(tag string, raw json.RawMessage) (domain.AdjustmentData, error) {
	return decodeAs[domain.AdjustmentData](r, Adjustment, tag, raw)
}

// DecodePaymentMethod decodes a payment method payload.
func (r *Registry) DecodePaymentMethod(tag string, raw json.RawMessage) (domain.PaymentMethodData, error) {
	return decodeAs[domain.PaymentMethodData](r, PaymentMethod, tag, raw)
}

// DecodeDeliveryAddress decodes a delivery address payload.
func (r *Registry) DecodeDeliveryAddress(tag string, raw json.RawMessage) (domain.DeliveryAddressData, error) {
	return decodeAs[domain.DeliveryAddressData](r, DeliveryAddress, tag, raw)
}

func decodeAs[T any](r *Registry, c Category, tag string, raw json.RawMessage) (T, error) {
	var zero T
	v, err := r.Decode(c, tag, raw)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s %q decoded to %T", ErrBadHandler, c, tag, v)
	}
	return t, nil
}
