package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrEmptyCart        = errors.New("cart is empty, nothing to checkout")
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("persistence unavailable")
	// ErrAlreadyExists is a constraint violation reported by the persistence layer.
	ErrAlreadyExists = errors.New("already exists")

	ErrIllegalTransition = errors.New("illegal transition of checkout status")
)

// FieldError reports which caller-supplied field failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid argument: %s %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidArgument
}
