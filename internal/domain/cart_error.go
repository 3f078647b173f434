package domain

import (
	"encoding/json"
	"strings"
)

// Completeness error codes.
const (
	CodeNotSet = "not_set"
	CodeEmpty  = "empty"
)

// CartError is one reason a cart cannot be checked out. Field is nil for
// errors that concern the cart as a whole.
type CartError struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Field   *string `json:"field"`
}

// FieldError builds a CartError about one field of the cart.
func FieldError(code, message, field string) CartError {
	return CartError{Code: code, Message: message, Field: &field}
}

// GeneralError builds a CartError not tied to a field.
func GeneralError(code, message string) CartError {
	return CartError{Code: code, Message: message}
}

// FieldName returns the field, or "" when unset.
func (e CartError) FieldName() string {
	if e.Field == nil {
		return ""
	}
	return *e.Field
}

// ErrorSet is an ordered, flat collection of CartErrors.
type ErrorSet []CartError

// Add appends errors to the set.
func (s *ErrorSet) Add(errs ...CartError) {
	*s = append(*s, errs...)
}

// Merge flattens other into the set, preserving order.
func (s *ErrorSet) Merge(other ErrorSet) {
	*s = append(*s, other...)
}

// Empty reports whether the set has no errors.
func (s ErrorSet) Empty() bool { return len(s) == 0 }

// Has reports whether the set contains an error with code and field.
func (s ErrorSet) Has(code, field string) bool {
	for _, e := range s {
		if e.Code == code && e.FieldName() == field {
			return true
		}
	}
	return false
}

// MarshalJSON renders the set as a list, never null.
func (s ErrorSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]CartError(s))
}

// IncompleteError surfaces a whole non-empty ErrorSet as one failure.
type IncompleteError struct {
	Errors ErrorSet
}

func (e *IncompleteError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ce := range e.Errors {
		msgs = append(msgs, ce.Message)
	}
	return "cart is incomplete: " + strings.Join(msgs, " ")
}
