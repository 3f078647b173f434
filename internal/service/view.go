package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/internal/repository"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/validator"
)

// loadView gathers everything attached to cart. With forUpdate every row
// read is locked until the surrounding transaction ends.
func loadView(ctx context.Context, repos repository.Repositories, cart *domain.Cart, forUpdate bool) (*domain.CartView, error) {
	v := &domain.CartView{Cart: cart}

	items, err := repos.LineItems.ListByCart(ctx, cart.ID, forUpdate)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	v.Items = items

	adjustments, err := repos.Adjustments.ListByCart(ctx, cart.ID, forUpdate)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	v.Adjustments = adjustments

	if cart.PaymentMethodID != nil {
		if v.PaymentMethod, err = repos.PaymentMethods.GetByID(ctx, *cart.PaymentMethodID, forUpdate); err != nil {
			return nil, fmt.Errorf("get payment method: %w", err)
		}
	}
	if cart.DeliveryAddressID != nil {
		if v.DeliveryAddress, err = repos.DeliveryAddresses.GetByID(ctx, *cart.DeliveryAddressID, forUpdate); err != nil {
			return nil, fmt.Errorf("get delivery address: %w", err)
		}
	}
	return v, nil
}

// decodeError turns a client-supplied payload that the registry rejected
// into a 400.
func decodeError(kind string, err error) error {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return valErr
	}
	var unknown *registry.UnknownTypeError
	if errors.As(err, &unknown) {
		return apperrors.InvalidInput(fmt.Sprintf("unknown %s type %q", kind, unknown.Tag))
	}
	return apperrors.InvalidInput(fmt.Sprintf("invalid %s: %v", kind, err))
}
