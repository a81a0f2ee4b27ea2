package domain

import "errors"

var (
	ErrMissingBuyer    = errors.New("buyer id is required")
	ErrEmptyOrder      = errors.New("order must contain at least one line item")
	ErrInvalidQuantity = errors.New("line item quantity must be positive")
	ErrInvalidPrice    = errors.New("line item price must not be negative")

	ErrNotFound            = errors.New("order not found")
	ErrConcurrencyConflict = errors.New("order was modified concurrently")
	ErrUnknownEventType    = errors.New("unknown event type")
)

// IsValidation reports whether err is a command-input validation failure,
// i.e. one that must be rejected before any persistence attempt and never
// retried automatically.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingBuyer) ||
		errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice)
}
