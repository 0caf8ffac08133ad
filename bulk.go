package playermail

import (
	"fmt"

	"github.com/rbaliyan/playermail/store"
)

// DeliveryResult is the outcome for one receiver name of a batch send.
type DeliveryResult struct {
	// Receiver is the name as given by the caller.
	Receiver string
	// Mail is the stored record when the delivery succeeded.
	Mail *store.Mail
	// Error is set when the delivery failed.
	Error error
}

// Success reports whether this delivery stored a record.
func (r DeliveryResult) Success() bool {
	return r.Error == nil && r.Mail != nil
}

// BatchResult holds per-receiver outcomes in input order.
type BatchResult struct {
	Results []DeliveryResult
}

// SuccessCount returns the number of stored records.
func (r *BatchResult) SuccessCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Success() {
			n++
		}
	}
	return n
}

// FailureCount returns the number of failed deliveries.
func (r *BatchResult) FailureCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results) - r.SuccessCount()
}

// FailedReceivers returns the names that could not be delivered to.
func (r *BatchResult) FailedReceivers() []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, res := range r.Results {
		if !res.Success() {
			names = append(names, res.Receiver)
		}
	}
	return names
}

// Mails returns the stored records.
func (r *BatchResult) Mails() []*store.Mail {
	if r == nil {
		return nil
	}
	var out []*store.Mail
	for _, res := range r.Results {
		if res.Success() {
			out = append(out, res.Mail)
		}
	}
	return out
}

// Err returns a *BatchError when any delivery failed.
func (r *BatchResult) Err() error {
	if r.FailureCount() == 0 {
		return nil
	}
	return &BatchError{Result: r}
}

// BatchError reports a partially failed batch send.
type BatchError struct {
	Result *BatchResult
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("playermail: batch send failed for %d of %d receivers",
		e.Result.FailureCount(), len(e.Result.Results))
}

// Unwrap returns the individual delivery errors.
func (e *BatchError) Unwrap() []error {
	var errs []error
	for _, r := range e.Result.Results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}
