package store

import "errors"

// Implementations wrap driver errors so callers can match these with errors.Is.
var (
	ErrNotFound         = errors.New("store: not found")
	ErrDuplicateEntry   = errors.New("store: duplicate entry")
	ErrNotConnected     = errors.New("store: not connected")
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrInvalidID and ErrInvalidMail reject records before they reach
	// the backend; see Mail.Validate.
	ErrInvalidID   = errors.New("store: invalid id")
	ErrInvalidMail = errors.New("store: invalid mail")

	// ErrFilterInvalid is returned for a filter on a field or operator
	// the backends cannot translate.
	ErrFilterInvalid = errors.New("store: invalid filter")
)
