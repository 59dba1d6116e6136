package shared

import "errors"

var (
	// ErrNotFound indicates a referenced record does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input, such as a negative discount or rate.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates the record is not in a state the operation applies to.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a concurrent unit of work already produced the same result.
	ErrConflict = errors.New("conflict")
)
