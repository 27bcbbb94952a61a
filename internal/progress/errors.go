package progress

import "errors"

var (
	// ErrUnauthenticated indicates the caller carried no usable identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound indicates the resource is missing or belongs to someone else.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller may not act on the resource in its current state.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput indicates a validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
)
