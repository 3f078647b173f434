package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod is a stored means of charging a customer. Deactivated
// methods stay readable for the orders they paid for but can never be
// selected again.
type PaymentMethod struct {
	ID        uuid.UUID         `json:"id"`
	UserID    *string           `json:"user_id,omitempty"`
	Type      string            `json:"type"`
	Active    bool              `json:"active"`
	Data      PaymentMethodData `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewPaymentMethod creates an active payment method. userID is empty for a
// method that only lives for one anonymous checkout.
func NewPaymentMethod(userID, tag string, data PaymentMethodData) *PaymentMethod {
	m := &PaymentMethod{ID: uuid.New(), Type: tag, Active: true, Data: data, CreatedAt: time.Now().UTC()}
	if userID != "" {
		m.UserID = &userID
	}
	return m
}

// Deactivate soft-deletes the method.
func (m *PaymentMethod) Deactivate() {
	m.Active = false
}

// ChargeRequest is passed to PaymentMethodData.MakePayment.
type ChargeRequest struct {
	Method *PaymentMethod
	Order  *Order
	Amount decimal.Decimal
}

// Payment is the immutable record of a successful charge.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	MethodID  uuid.UUID       `json:"method_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Data      any             `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewPayment records a charge of req.Amount made by req.Method. data is the
// provider-specific receipt and must be JSON-serializable.
func NewPayment(req ChargeRequest, data any) *Payment {
	return &Payment{
		ID:        uuid.New(),
		MethodID:  req.Method.ID,
		Type:      req.Method.Type,
		Amount:    req.Amount,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// PaymentError is a user-correctable charge failure. Info is an opaque,
// method-specific payload passed through to the client.
type PaymentError struct {
	Message string
	Info    any
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment failed: %s", e.Message)
}
