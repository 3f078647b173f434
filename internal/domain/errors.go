package domain

import (
	"fmt"

	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

// Sentinel errors for entity lifecycle rules. Each wraps the apperrors kind it
// maps to at the HTTP boundary.
var (
	// ErrFrozen is returned when a line item or adjustment that already
	// belongs to an order is modified.
	ErrFrozen = fmt.Errorf("record is attached to an order and cannot be modified: %w", apperrors.ErrConflict)

	// ErrOwnership is returned when a line item or adjustment would belong to
	// both a cart and an order, or to neither.
	ErrOwnership = fmt.Errorf("record must belong to exactly one of cart or order: %w", apperrors.ErrInternal)

	// ErrTotalFrozen is returned by a second FreezeTotal.
	ErrTotalFrozen = fmt.Errorf("total already frozen: %w", apperrors.ErrInternal)

	// ErrInactive is returned when selecting a deactivated payment method or
	// delivery address.
	ErrInactive = fmt.Errorf("record has been deactivated: %w", apperrors.ErrConflict)

	// ErrNotOwner is returned when a cart selects a record owned by another
	// user.
	ErrNotOwner = fmt.Errorf("record belongs to another user: %w", apperrors.ErrForbidden)

	// ErrInconsistentState signals that the totals recomputed at checkout do
	// not match what the shopper was shown.
	ErrInconsistentState = fmt.Errorf("inconsistent cart state: %w", apperrors.ErrInternal)

	// ErrInvoiceIDTaken is returned when a new order's custom invoice ID is
	// already used by another order.
	ErrInvoiceIDTaken = fmt.Errorf("invoice id already taken: %w", apperrors.ErrConflict)

	// ErrContractViolation signals a payment method that returned neither a
	// payment for itself nor an error.
	ErrContractViolation = fmt.Errorf("payment method contract violation: %w", apperrors.ErrInternal)
)
