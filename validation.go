package playermail

import (
	"unicode/utf8"

	"github.com/rbaliyan/playermail/item"
)

// Limits holds the mail validation limits.
type Limits struct {
	MaxSubjectLength int
	MaxContentLength int
	MaxItems         int
}

// DefaultLimits returns the default mail limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSubjectLength: DefaultMaxSubjectLength,
		MaxContentLength: DefaultMaxContentLength,
		MaxItems:         DefaultMaxItems,
	}
}

func (o *options) limits() Limits {
	return Limits{
		MaxSubjectLength: o.maxSubjectLength,
		MaxContentLength: o.maxContentLength,
		MaxItems:         o.maxItems,
	}
}

// ValidateText checks subject and body lengths in characters.
// An empty subject is allowed.
func (l Limits) ValidateText(subject, body string) error {
	if n := utf8.RuneCountInString(subject); n > l.MaxSubjectLength {
		return &ValidationError{Field: "subject", Limit: l.MaxSubjectLength, Got: n, Err: ErrSubjectTooLong}
	}
	if n := utf8.RuneCountInString(body); n > l.MaxContentLength {
		return &ValidationError{Field: "body", Limit: l.MaxContentLength, Got: n, Err: ErrBodyTooLong}
	}
	return nil
}

// FilterItems drops nil and air stacks and enforces the item cap.
// The returned stacks are copies.
func (l Limits) FilterItems(stacks []*item.Stack) ([]item.Stack, error) {
	kept := item.Filter(stacks)
	if len(kept) > l.MaxItems {
		return nil, &ValidationError{Field: "items", Limit: l.MaxItems, Got: len(kept), Err: ErrTooManyItems}
	}
	return kept, nil
}

// filterCommands drops blank commands.
func filterCommands(cmds []string) []string {
	var out []string
	for _, c := range cmds {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
