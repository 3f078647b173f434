package domain

import (
	"time"

	"github.com/google/uuid"
)

// Cart is the mutable pre-checkout container. It is owned by a user, or is
// anonymous and reachable only through its session.
type Cart struct {
	ID                uuid.UUID  `json:"id"`
	UserID            *string    `json:"user_id,omitempty"`
	Email             string     `json:"email,omitempty"`
	DeliveryAddressID *uuid.UUID `json:"delivery_address_id,omitempty"`
	PaymentMethodID   *uuid.UUID `json:"payment_method_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewCart creates a cart. userID is empty for anonymous carts.
func NewCart(userID string) *Cart {
	now := time.Now().UTC()
	c := &Cart{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	if userID != "" {
		c.UserID = &userID
	}
	return c
}

// Anonymous reports whether no user owns the cart.
func (c *Cart) Anonymous() bool {
	return c.UserID == nil
}

// AssignTo makes userID the owner of the cart.
func (c *Cart) AssignTo(userID string) {
	u := userID
	c.UserID = &u
	c.Touch()
}

// SelectPaymentMethod selects m after checking it may be used by this cart.
func (c *Cart) SelectPaymentMethod(m *PaymentMethod) error {
	if err := selectable(c, m.Active, m.UserID); err != nil {
		return err
	}
	id := m.ID
	c.PaymentMethodID = &id
	c.Touch()
	return nil
}

// SelectDeliveryAddress selects a after checking it may be used by this cart.
func (c *Cart) SelectDeliveryAddress(a *DeliveryAddress) error {
	if err := selectable(c, a.Active, a.UserID); err != nil {
		return err
	}
	id := a.ID
	c.DeliveryAddressID = &id
	c.Touch()
	return nil
}

// Touch bumps UpdatedAt.
func (c *Cart) Touch() {
	c.UpdatedAt = time.Now().UTC()
}

func selectable(c *Cart, active bool, owner *string) error {
	if !active {
		return ErrInactive
	}
	if owner != nil && (c.UserID == nil || *c.UserID != *owner) {
		return ErrNotOwner
	}
	return nil
}
