package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/ordertoken"
	"github.com/utafrali/cartengine/internal/repository"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/logger"
)

// OrderTokenVerifier checks the token carried by a signed order URL.
type OrderTokenVerifier interface {
	Verify(orderID uuid.UUID, token string) error
}

// OrderDetail is a placed order with everything that migrated onto it.
type OrderDetail struct {
	Order           *domain.Order           `json:"order"`
	Items           []*domain.LineItem      `json:"items"`
	Adjustments     []*domain.Adjustment    `json:"adjustments"`
	Payment         *domain.Payment         `json:"payment,omitempty"`
	DeliveryAddress *domain.DeliveryAddress `json:"delivery_address,omitempty"`
}

// OrderService serves placed orders to their owner or to anyone holding a
// valid order token.
type OrderService struct {
	store    repository.Store
	verifier OrderTokenVerifier
	logger   *slog.Logger
}

// NewOrderService creates a new order service. A nil verifier disables
// token access.
func NewOrderService(store repository.Store, verifier OrderTokenVerifier, logger *slog.Logger) *OrderService {
	return &OrderService{store: store, verifier: verifier, logger: logger}
}

// Get returns the order when p owns it or token grants access to it.
func (s *OrderService) Get(ctx context.Context, p Principal, orderID uuid.UUID, token string) (*OrderDetail, error) {
	repos := s.store.Repositories()

	order, err := repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, order, token); err != nil {
		return nil, err
	}

	d := &OrderDetail{Order: order}
	if d.Items, err = repos.LineItems.ListByOrder(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	if d.Adjustments, err = repos.Adjustments.ListByOrder(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("list order adjustments: %w", err)
	}
	if order.PaymentID != nil {
		if d.Payment, err = repos.Payments.GetByID(ctx, *order.PaymentID); err != nil {
			return nil, fmt.Errorf("get payment: %w", err)
		}
	}
	if order.DeliveryAddressID != nil {
		if d.DeliveryAddress, err = repos.DeliveryAddresses.GetByID(ctx, *order.DeliveryAddressID, false); err != nil {
			return nil, fmt.Errorf("get delivery address: %w", err)
		}
	}
	return d, nil
}

func (s *OrderService) authorize(ctx context.Context, p Principal, order *domain.Order, token string) error {
	if p.UserID != "" && order.UserID != nil && *order.UserID == p.UserID {
		return nil
	}
	if token == "" || s.verifier == nil {
		return apperrors.Forbidden("order access requires the owner or a valid token")
	}

	err := s.verifier.Verify(order.ID, token)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ordertoken.ErrExpiredToken):
		return apperrors.Gone("order link has expired")
	default:
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "rejected order token",
			slog.String("order_id", order.ID.String()),
			slog.String("error", err.Error()),
		)
		return apperrors.Forbidden("invalid order token")
	}
}
