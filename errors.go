package playermail

import (
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/playermail/store"
)

// Sentinel errors for the playermail package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, playermail.ErrNotFound) will match both service-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a mail record cannot be found.
	ErrNotFound = fmt.Errorf("playermail: %w", store.ErrNotFound)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("playermail: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("playermail: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("playermail: %w", store.ErrAlreadyConnected)

	// ErrSubjectTooLong is returned when the subject exceeds the configured maximum.
	ErrSubjectTooLong = errors.New("playermail: subject too long")

	// ErrBodyTooLong is returned when the body exceeds the configured maximum.
	ErrBodyTooLong = errors.New("playermail: body too long")

	// ErrTooManyItems is returned when the attachment holds more stacks than allowed.
	ErrTooManyItems = errors.New("playermail: too many items")

	// ErrCooldown is returned when a sender sends again within the cooldown window.
	ErrCooldown = errors.New("playermail: send cooldown active")

	// ErrPlayerNotFound is returned when a receiver name resolves to no known player.
	ErrPlayerNotFound = errors.New("playermail: player not found")

	// ErrUnauthorized is returned when the actor is not a party to the mail.
	ErrUnauthorized = errors.New("playermail: unauthorized")

	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("playermail: invalid request")

	// ErrDispatcherRequired is returned when a mail carries commands but no
	// command dispatcher is configured.
	ErrDispatcherRequired = errors.New("playermail: command dispatcher is required")

	// ErrNoRecipients is returned when a broadcast or batch has nobody to deliver to.
	ErrNoRecipients = errors.New("playermail: no recipients")
)

// CooldownError reports how long the sender must wait before sending again.
type CooldownError struct {
	SenderID  string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("playermail: send cooldown active for %s (%s remaining)",
		e.SenderID, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error {
	return ErrCooldown
}

// ValidationError describes which limit a request broke.
type ValidationError struct {
	Field string
	Limit int
	Got   int
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s has %d, limit %d", e.Err, e.Field, e.Got, e.Limit)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a length or item-count violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryableError reports whether a delivery failure may succeed if retried.
// Policy failures (validation, cooldown, addressing, authorization) are permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrSubjectTooLong),
		errors.Is(err, ErrBodyTooLong),
		errors.Is(err, ErrTooManyItems),
		errors.Is(err, ErrCooldown),
		errors.Is(err, ErrPlayerNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, store.ErrDuplicateEntry),
		errors.Is(err, store.ErrInvalidMail),
		errors.Is(err, store.ErrInvalidID):
		return false
	}
	var pe *PluginError
	if errors.As(err, &pe) {
		return false
	}
	return true
}
