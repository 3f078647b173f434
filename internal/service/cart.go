package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/utafrali/cartengine/internal/completeness"
	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/registry"
	"github.com/utafrali/cartengine/internal/repository"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/validator"
)

// Principal identifies who a request acts for: a logged-in user or an
// anonymous session. A user always wins over a session.
type Principal struct {
	UserID       string
	SessionToken string
}

// CartService resolves carts and applies every pre-checkout mutation.
type CartService struct {
	store    repository.Store
	sessions repository.SessionStore
	registry *registry.Registry
	engine   *completeness.Engine
	logger   *slog.Logger
}

// NewCartService creates a new cart service.
func NewCartService(store repository.Store, sessions repository.SessionStore, reg *registry.Registry, engine *completeness.Engine, logger *slog.Logger) *CartService {
	return &CartService{
		store:    store,
		sessions: sessions,
		registry: reg,
		engine:   engine,
		logger:   logger,
	}
}

// Resolve returns the principal's cart. Users get exactly one cart each;
// sessions are mapped to theirs through the session store. Without create a
// missing cart is apperrors.ErrNotFound.
func (s *CartService) Resolve(ctx context.Context, p Principal, create bool) (*domain.Cart, error) {
	switch {
	case p.UserID != "":
		return s.resolveUser(ctx, p.UserID, create)
	case p.SessionToken != "":
		return s.resolveSession(ctx, p.SessionToken, create)
	default:
		return nil, apperrors.Unauthorized("a user or session is required")
	}
}

func (s *CartService) resolveUser(ctx context.Context, userID string, create bool) (*domain.Cart, error) {
	carts := s.store.Repositories().Carts

	cart, err := carts.GetByUserID(ctx, userID)
	if err == nil || !errors.Is(err, apperrors.ErrNotFound) || !create {
		return cart, err
	}

	cart = domain.NewCart(userID)
	if err := carts.Create(ctx, cart); err != nil {
		// A concurrent request created it first.
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return carts.GetByUserID(ctx, userID)
		}
		return nil, fmt.Errorf("create cart: %w", err)
	}

	s.logger.InfoContext(ctx, "cart created",
		slog.String("cart_id", cart.ID.String()),
		slog.String("user_id", userID),
	)
	return cart, nil
}

func (s *CartService) resolveSession(ctx context.Context, token string, create bool) (*domain.Cart, error) {
	carts := s.store.Repositories().Carts

	id, ok, err := s.sessions.CartID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("look up session cart: %w", err)
	}
	if ok {
		cart, err := carts.GetByID(ctx, id)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		// The cart was merged or checked out from elsewhere; start afresh.
	}
	if !create {
		return nil, apperrors.NotFound("cart", "for session")
	}

	cart := domain.NewCart("")
	if err := carts.Create(ctx, cart); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	if err := s.sessions.Bind(ctx, token, cart.ID); err != nil {
		return nil, fmt.Errorf("bind session cart: %w", err)
	}

	s.logger.InfoContext(ctx, "anonymous cart created", slog.String("cart_id", cart.ID.String()))
	return cart, nil
}

// View loads the cart with its items, adjustments and selections.
func (s *CartService) View(ctx context.Context, cartID uuid.UUID) (*domain.CartView, error) {
	repos := s.store.Repositories()
	cart, err := repos.Carts.GetByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return loadView(ctx, repos, cart, false)
}

// SavedSelections are the records a user can pick from instead of entering
// a new payment method or address.
type SavedSelections struct {
	PaymentMethods    []*domain.PaymentMethod
	DeliveryAddresses []*domain.DeliveryAddress
}

// Saved lists the active payment methods and delivery addresses of the
// cart's user. Anonymous carts have none.
func (s *CartService) Saved(ctx context.Context, cart *domain.Cart) (*SavedSelections, error) {
	out := &SavedSelections{}
	if cart.UserID == nil {
		return out, nil
	}
	repos := s.store.Repositories()

	var err error
	if out.PaymentMethods, err = repos.PaymentMethods.ListActiveByUser(ctx, *cart.UserID); err != nil {
		return nil, fmt.Errorf("list saved payment methods: %w", err)
	}
	if out.DeliveryAddresses, err = repos.DeliveryAddresses.ListActiveByUser(ctx, *cart.UserID); err != nil {
		return nil, fmt.Errorf("list saved delivery addresses: %w", err)
	}
	return out, nil
}

// Completeness starts a memoized completeness evaluation of v.
func (s *CartService) Completeness(v *domain.CartView) *completeness.Evaluation {
	return s.engine.Check(v)
}

// AddItem decodes raw as the line item variant registered under tag and adds
// it to the cart.
func (s *CartService) AddItem(ctx context.Context, cartID uuid.UUID, tag string, raw json.RawMessage) (*domain.LineItem, error) {
	data, err := s.registry.DecodeLineItem(tag, raw)
	if err != nil {
		return nil, decodeError("line item", err)
	}

	item := domain.NewLineItem(cartID, tag, data)
	err = s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, _ *domain.Cart) error {
		return repos.LineItems.Save(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("cart_id", cartID.String()),
		slog.String("item_id", item.ID.String()),
		slog.String("type", tag),
	)
	return item, nil
}

// GetItem returns an item of the cart. Items of other carts are reported as
// not found.
func (s *CartService) GetItem(ctx context.Context, cartID, itemID uuid.UUID) (*domain.LineItem, error) {
	item, err := s.store.Repositories().LineItems.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !sameID(item.CartID, cartID) {
		return nil, apperrors.NotFound("line item", itemID.String())
	}
	return item, nil
}

// UpdateItem replaces the payload of an item still in the cart. raw is
// decoded as the item's existing type, so an update can never change it.
func (s *CartService) UpdateItem(ctx context.Context, cartID, itemID uuid.UUID, raw json.RawMessage) (*domain.LineItem, error) {
	var item *domain.LineItem
	err := s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, _ *domain.Cart) error {
		current, err := repos.LineItems.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if current.OrderID != nil {
			return domain.ErrFrozen
		}
		if !sameID(current.CartID, cartID) {
			return apperrors.NotFound("line item", itemID.String())
		}
		data, err := s.registry.DecodeLineItem(current.Type, raw)
		if err != nil {
			return decodeError("line item", err)
		}
		current.Data = data
		item = current
		return repos.LineItems.Save(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart item updated",
		slog.String("cart_id", cartID.String()),
		slog.String("item_id", itemID.String()),
	)
	return item, nil
}

// RemoveItem deletes an item still in the cart.
func (s *CartService) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, _ *domain.Cart) error {
		return repos.LineItems.Delete(ctx, itemID, cartID)
	})
}

// AddAdjustment decodes raw as the adjustment variant registered under tag
// and adds it to the cart.
func (s *CartService) AddAdjustment(ctx context.Context, cartID uuid.UUID, tag string, raw json.RawMessage) (*domain.Adjustment, error) {
	data, err := s.registry.DecodeAdjustment(tag, raw)
	if err != nil {
		return nil, decodeError("adjustment", err)
	}

	adj := domain.NewAdjustment(cartID, tag, data)
	err = s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, _ *domain.Cart) error {
		return repos.Adjustments.Save(ctx, adj)
	})
	if err != nil {
		return nil, err
	}
	return adj, nil
}

// RemoveAdjustment deletes an adjustment still in the cart.
func (s *CartService) RemoveAdjustment(ctx context.Context, cartID, adjID uuid.UUID) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, _ *domain.Cart) error {
		return repos.Adjustments.Delete(ctx, adjID, cartID)
	})
}

// AddPaymentMethod creates a payment method and selects it. The method
// belongs to the cart's user; on an anonymous cart it is transient and only
// usable by that cart.
func (s *CartService) AddPaymentMethod(ctx context.Context, cartID uuid.UUID, tag string, raw json.RawMessage) (*domain.PaymentMethod, error) {
	data, err := s.registry.DecodePaymentMethod(tag, raw)
	if err != nil {
		return nil, decodeError("payment method", err)
	}

	var method *domain.PaymentMethod
	err = s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, cart *domain.Cart) error {
		method = domain.NewPaymentMethod(ownerOf(cart), tag, data)
		if err := repos.PaymentMethods.Create(ctx, method); err != nil {
			return fmt.Errorf("create payment method: %w", err)
		}
		return cart.SelectPaymentMethod(method)
	})
	if err != nil {
		return nil, err
	}
	return method, nil
}

// SelectPaymentMethod selects an existing, active method owned by the cart's
// user.
func (s *CartService) SelectPaymentMethod(ctx context.Context, cartID, methodID uuid.UUID) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, cart *domain.Cart) error {
		method, err := repos.PaymentMethods.GetByID(ctx, methodID, true)
		if err != nil {
			return err
		}
		return cart.SelectPaymentMethod(method)
	})
}

// DeactivatePaymentMethod soft-deletes a method and unselects it from every
// cart. Orders it paid for keep referencing it.
func (s *CartService) DeactivatePaymentMethod(ctx context.Context, p Principal, methodID uuid.UUID) error {
	cart, err := s.principalCart(ctx, p)
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		method, err := repos.PaymentMethods.GetByID(ctx, methodID, true)
		if err != nil {
			return err
		}
		if !mayManage(cart, method.UserID, cart != nil && sameID(cart.PaymentMethodID, method.ID)) {
			return domain.ErrNotOwner
		}
		if !method.Active {
			return nil
		}
		method.Deactivate()
		if err := repos.PaymentMethods.Update(ctx, method); err != nil {
			return fmt.Errorf("update payment method: %w", err)
		}
		return repos.Carts.ClearPaymentMethod(ctx, method.ID)
	})
}

// AddDeliveryAddress creates a delivery address and selects it.
func (s *CartService) AddDeliveryAddress(ctx context.Context, cartID uuid.UUID, tag string, raw json.RawMessage) (*domain.DeliveryAddress, error) {
	data, err := s.registry.DecodeDeliveryAddress(tag, raw)
	if err != nil {
		return nil, decodeError("delivery address", err)
	}

	var addr *domain.DeliveryAddress
	err = s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, cart *domain.Cart) error {
		addr = domain.NewDeliveryAddress(ownerOf(cart), tag, data)
		if err := repos.DeliveryAddresses.Create(ctx, addr); err != nil {
			return fmt.Errorf("create delivery address: %w", err)
		}
		return cart.SelectDeliveryAddress(addr)
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// SelectDeliveryAddress selects an existing, active address owned by the
// cart's user.
func (s *CartService) SelectDeliveryAddress(ctx context.Context, cartID, addressID uuid.UUID) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, repos repository.Repositories, cart *domain.Cart) error {
		addr, err := repos.DeliveryAddresses.GetByID(ctx, addressID, true)
		if err != nil {
			return err
		}
		return cart.SelectDeliveryAddress(addr)
	})
}

// DeactivateDeliveryAddress soft-deletes an address and unselects it from
// every cart.
func (s *CartService) DeactivateDeliveryAddress(ctx context.Context, p Principal, addressID uuid.UUID) error {
	cart, err := s.principalCart(ctx, p)
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		addr, err := repos.DeliveryAddresses.GetByID(ctx, addressID, true)
		if err != nil {
			return err
		}
		if !mayManage(cart, addr.UserID, cart != nil && sameID(cart.DeliveryAddressID, addr.ID)) {
			return domain.ErrNotOwner
		}
		if !addr.Active {
			return nil
		}
		addr.Deactivate()
		if err := repos.DeliveryAddresses.Update(ctx, addr); err != nil {
			return fmt.Errorf("update delivery address: %w", err)
		}
		return repos.Carts.ClearDeliveryAddress(ctx, addr.ID)
	})
}

type emailInput struct {
	Email string `validate:"required,email,max=254"`
}

// SetEmail records the guest email used for the order and its invoice.
func (s *CartService) SetEmail(ctx context.Context, cartID uuid.UUID, email string) error {
	if err := validator.Validate(emailInput{Email: email}); err != nil {
		return err
	}
	return s.mutate(ctx, cartID, func(_ context.Context, _ repository.Repositories, cart *domain.Cart) error {
		cart.Email = email
		return nil
	})
}

// mutate runs fn against the locked cart and writes the cart back.
func (s *CartService) mutate(ctx context.Context, cartID uuid.UUID, fn func(ctx context.Context, repos repository.Repositories, cart *domain.Cart) error) error {
	return s.store.InTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cart, err := repos.Carts.GetForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if err := fn(ctx, repos, cart); err != nil {
			return err
		}
		cart.Touch()
		return repos.Carts.Update(ctx, cart)
	})
}

// principalCart is the principal's existing cart, or nil.
func (s *CartService) principalCart(ctx context.Context, p Principal) (*domain.Cart, error) {
	cart, err := s.Resolve(ctx, p, false)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return cart, err
}

func ownerOf(cart *domain.Cart) string {
	if cart.UserID == nil {
		return ""
	}
	return *cart.UserID
}

// mayManage reports whether the owner of cart may deactivate a record. A
// user owns their records; a transient record belongs to the cart that
// selected it.
func mayManage(cart *domain.Cart, owner *string, selected bool) bool {
	if owner != nil {
		return cart != nil && cart.UserID != nil && *cart.UserID == *owner
	}
	return selected
}

func sameID(p *uuid.UUID, id uuid.UUID) bool {
	return p != nil && *p == id
}
