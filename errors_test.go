package playermail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/playermail/store"
)

func TestCooldownError(t *testing.T) {
	err := &CooldownError{SenderID: "p1", Remaining: 12400 * time.Millisecond}

	if !errors.Is(err, ErrCooldown) {
		t.Error("expected CooldownError to match ErrCooldown")
	}
	if !strings.Contains(err.Error(), "12s remaining") {
		t.Errorf("expected rounded remaining time in %q", err.Error())
	}

	wrapped := fmt.Errorf("send: %w", err)
	var ce *CooldownError
	if !errors.As(wrapped, &ce) || ce.SenderID != "p1" {
		t.Error("expected errors.As to find the CooldownError")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "subject", Limit: 50, Got: 51, Err: ErrSubjectTooLong}

	if !errors.Is(err, ErrSubjectTooLong) {
		t.Error("expected ValidationError to unwrap to its sentinel")
	}
	if !IsValidationError(fmt.Errorf("wrapped: %w", err)) {
		t.Error("expected IsValidationError through wrapping")
	}
	if IsValidationError(ErrSubjectTooLong) {
		t.Error("bare sentinel is not a *ValidationError")
	}
	if want := "playermail: subject too long: subject has 51, limit 50"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"subject too long", &ValidationError{Err: ErrSubjectTooLong}, false},
		{"too many items", ErrTooManyItems, false},
		{"cooldown", &CooldownError{}, false},
		{"player not found", fmt.Errorf("%w: Notch", ErrPlayerNotFound), false},
		{"unauthorized", ErrUnauthorized, false},
		{"not connected", ErrNotConnected, false},
		{"duplicate", store.ErrDuplicateEntry, false},
		{"plugin rejection", &PluginError{Plugin: "mute", Op: "BeforeSend", Err: errors.New("muted")}, false},
		{"store failure", errors.New("connection reset"), true},
		{"wrapped store failure", fmt.Errorf("playermail: insert mail: %w", context.DeadlineExceeded), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBatchError(t *testing.T) {
	res := &BatchResult{Results: []DeliveryResult{
		{Receiver: "Alex", Mail: &store.Mail{ID: "m1"}},
		{Receiver: "Notch", Error: ErrPlayerNotFound},
		{Receiver: "Jeb", Error: ErrCooldown},
	}}

	if res.SuccessCount() != 1 || res.FailureCount() != 2 {
		t.Fatalf("expected 1/2, got %d/%d", res.SuccessCount(), res.FailureCount())
	}
	err := res.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrPlayerNotFound) || !errors.Is(err, ErrCooldown) {
		t.Error("expected BatchError to unwrap to every delivery error")
	}
	if !strings.Contains(err.Error(), "2 of 3") {
		t.Errorf("unexpected message %q", err.Error())
	}

	ok := &BatchResult{Results: []DeliveryResult{{Receiver: "Alex", Mail: &store.Mail{ID: "m1"}}}}
	if ok.Err() != nil {
		t.Error("expected nil error when every delivery succeeded")
	}

	var nilResult *BatchResult
	if nilResult.SuccessCount() != 0 || nilResult.FailedReceivers() != nil {
		t.Error("nil result should be empty")
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinelErrors := []error{
		ErrNotFound,
		ErrStoreRequired,
		ErrNotConnected,
		ErrAlreadyConnected,
		ErrSubjectTooLong,
		ErrBodyTooLong,
		ErrTooManyItems,
		ErrCooldown,
		ErrPlayerNotFound,
		ErrUnauthorized,
		ErrInvalidRequest,
		ErrDispatcherRequired,
		ErrNoRecipients,
	}

	seen := make(map[string]int)
	for i, err := range sentinelErrors {
		msg := err.Error()
		if !strings.HasPrefix(msg, "playermail: ") {
			t.Errorf("sentinel %q lacks the package prefix", msg)
		}
		if prev, exists := seen[msg]; exists {
			t.Errorf("duplicate error message %q at indices %d and %d", msg, prev, i)
		}
		seen[msg] = i
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found", store.ErrNotFound, ErrNotFound},
		{"not found is still a store error", store.ErrNotFound, store.ErrNotFound},
		{"not connected", store.ErrNotConnected, ErrNotConnected},
		{"other wrapped", errBoom, errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapStoreErr("op", tt.err); !errors.Is(got, tt.target) {
				t.Errorf("mapStoreErr(%v) = %v, want match for %v", tt.err, got, tt.target)
			}
		})
	}
	if mapStoreErr("op", nil) != nil {
		t.Error("nil must stay nil")
	}
}
