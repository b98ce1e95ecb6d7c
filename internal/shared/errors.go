package shared

import "errors"

var (
	// ErrNotFound indicates a referenced record does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation is not permitted from the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a concurrent write won the compare-and-set.
	ErrConflict = errors.New("concurrent modification")
)
