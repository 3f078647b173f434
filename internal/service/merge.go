package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/repository"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	pkgkafka "github.com/utafrali/cartengine/pkg/kafka"
	"github.com/utafrali/cartengine/pkg/logger"
)

// TopicUserLoggedIn is published by the user service on every login.
var TopicUserLoggedIn = pkgkafka.Topic("user", "logged_in")

// UserLoggedInData is the payload of a user.logged_in event. SessionToken is
// the anonymous session the user logged in from, if any.
type UserLoggedInData struct {
	UserID       string `json:"user_id"`
	SessionToken string `json:"session_token"`
}

// MergeService folds an anonymous session's cart into the cart of the user
// who just logged in.
type MergeService struct {
	store    repository.Store
	sessions repository.SessionStore
	logger   *slog.Logger
}

// NewMergeService creates a new merge service.
func NewMergeService(store repository.Store, sessions repository.SessionStore, logger *slog.Logger) *MergeService {
	return &MergeService{store: store, sessions: sessions, logger: logger}
}

// Execute merges the cart of sessionToken into userID's cart.
//
// When the user has no cart the session cart simply becomes theirs. When
// both exist every session item moves across unchanged, the session
// selections replace the user's, and the session cart is deleted.
func (s *MergeService) Execute(ctx context.Context, sessionToken, userID string) error {
	if sessionToken == "" || userID == "" {
		return nil
	}

	sessionCartID, ok, err := s.sessions.CartID(ctx, sessionToken)
	if err != nil {
		return fmt.Errorf("look up session cart: %w", err)
	}
	if !ok {
		return nil
	}

	log := logger.WithContext(ctx, s.logger).With(
		slog.String("user_id", userID),
		slog.String("session_cart_id", sessionCartID.String()),
	)

	var moved int
	err = s.store.InTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		sessionCart, err := repos.Carts.GetForUpdate(ctx, sessionCartID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !sessionCart.Anonymous() {
			return nil
		}

		userCart, err := repos.Carts.GetByUserID(ctx, userID)
		if errors.Is(err, apperrors.ErrNotFound) {
			sessionCart.AssignTo(userID)
			return repos.Carts.Update(ctx, sessionCart)
		}
		if err != nil {
			return err
		}
		if userCart, err = repos.Carts.GetForUpdate(ctx, userCart.ID); err != nil {
			return err
		}

		items, err := repos.LineItems.ListByCart(ctx, sessionCart.ID, true)
		if err != nil {
			return fmt.Errorf("list session items: %w", err)
		}
		for _, it := range items {
			if err := it.MoveToCart(userCart.ID); err != nil {
				return fmt.Errorf("line item %s: %w", it.ID, err)
			}
			if err := repos.LineItems.Save(ctx, it); err != nil {
				return fmt.Errorf("move line item %s: %w", it.ID, err)
			}
		}
		moved = len(items)

		if err := adoptSelections(ctx, repos, sessionCart, userCart, userID); err != nil {
			return err
		}
		userCart.Touch()
		if err := repos.Carts.Update(ctx, userCart); err != nil {
			return fmt.Errorf("update user cart: %w", err)
		}
		return repos.Carts.Delete(ctx, sessionCart.ID)
	})
	if err != nil {
		return fmt.Errorf("merge carts: %w", err)
	}

	if err := s.sessions.Clear(ctx, sessionToken); err != nil {
		log.WarnContext(ctx, "failed to clear merged session", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "session cart merged", slog.Int("items_moved", moved))
	return nil
}

// adoptSelections hands the session cart's active address and payment
// method to the user and selects them on the user's cart.
func adoptSelections(ctx context.Context, repos repository.Repositories, from, to *domain.Cart, userID string) error {
	if from.DeliveryAddressID != nil {
		addr, err := repos.DeliveryAddresses.GetByID(ctx, *from.DeliveryAddressID, true)
		if err != nil {
			return fmt.Errorf("get session delivery address: %w", err)
		}
		if addr.Active {
			addr.UserID = &userID
			if err := repos.DeliveryAddresses.Update(ctx, addr); err != nil {
				return fmt.Errorf("adopt delivery address: %w", err)
			}
			if err := to.SelectDeliveryAddress(addr); err != nil {
				return err
			}
		}
	}

	if from.PaymentMethodID != nil {
		method, err := repos.PaymentMethods.GetByID(ctx, *from.PaymentMethodID, true)
		if err != nil {
			return fmt.Errorf("get session payment method: %w", err)
		}
		if method.Active {
			method.UserID = &userID
			if err := repos.PaymentMethods.Update(ctx, method); err != nil {
				return fmt.Errorf("adopt payment method: %w", err)
			}
			if err := to.SelectPaymentMethod(method); err != nil {
				return err
			}
		}
	}
	return nil
}

// HandleLoginEvent is the pkg/kafka handler for TopicUserLoggedIn.
func (s *MergeService) HandleLoginEvent(ctx context.Context, evt *pkgkafka.Event) error {
	var data UserLoggedInData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode %s: %w", evt.EventType, err)
	}
	if data.SessionToken == "" {
		return nil
	}
	return s.Execute(logger.WithUserID(ctx, data.UserID), data.SessionToken, data.UserID)
}
