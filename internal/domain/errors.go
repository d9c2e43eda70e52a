package domain

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable wraps persistence failures that are not caused by caller input.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrInvalidInput marks missing identifiers or unparseable payloads.
var ErrInvalidInput = errors.New("invalid input")

// StoreError records which operation hit a persistence failure. It matches both
// ErrStoreUnavailable and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable wraps err as a StoreError for op.
func Unavailable(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
