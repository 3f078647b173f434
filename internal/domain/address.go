package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAddress is a stored shipping destination, soft-deleted like
// PaymentMethod.
type DeliveryAddress struct {
	ID        uuid.UUID           `json:"id"`
	UserID    *string             `json:"user_id,omitempty"`
	Type      string              `json:"type"`
	Active    bool                `json:"active"`
	Data      DeliveryAddressData `json:"data"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewDeliveryAddress creates an active address.
func NewDeliveryAddress(userID, tag string, data DeliveryAddressData) *DeliveryAddress {
	a := &DeliveryAddress{ID: uuid.New(), Type: tag, Active: true, Data: data, CreatedAt: time.Now().UTC()}
	if userID != "" {
		a.UserID = &userID
	}
	return a
}

// Deactivate soft-deletes the address.
func (a *DeliveryAddress) Deactivate() {
	a.Active = false
}
