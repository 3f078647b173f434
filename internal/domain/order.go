package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the immutable record of a completed checkout.
type Order struct {
	ID                uuid.UUID       `json:"id"`
	UserID            *string         `json:"user_id,omitempty"`
	GuestEmail        string          `json:"guest_email,omitempty"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	CustomInvoiceID   string          `json:"custom_invoice_id,omitempty"`
	DeliveryAddressID *uuid.UUID      `json:"delivery_address_id,omitempty"`
	PaymentID         *uuid.UUID      `json:"payment_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// NewOrder creates the order shell for cart at grandTotal.
func NewOrder(cart *Cart, grandTotal decimal.Decimal) *Order {
	o := &Order{
		ID:         uuid.New(),
		GuestEmail: cart.Email,
		GrandTotal: grandTotal,
		CreatedAt:  time.Now().UTC(),
	}
	if cart.UserID != nil {
		u := *cart.UserID
		o.UserID = &u
	}
	return o
}

// InvoiceID is the host-assigned invoice number, or the order ID.
func (o *Order) InvoiceID() string {
	if o.CustomInvoiceID != "" {
		return o.CustomInvoiceID
	}
	return o.ID.String()
}
