package store

import (
	"fmt"
	"sort"
	"time"
)

// SortOrder represents the sort direction.
type SortOrder int

const (
	// SortAsc sorts in ascending order.
	SortAsc SortOrder = 1
	// SortDesc sorts in descending order.
	SortDesc SortOrder = -1
)

// ListOptions configures record listing.
// The zero value lists everything, newest first.
type ListOptions struct {
	Limit     int // 0 means no limit
	Offset    int
	SortBy    string
	SortOrder SortOrder
}

// Normalize fills in the default ordering.
func (o ListOptions) Normalize() ListOptions {
	key, ok := MailFieldKey(o.SortBy)
	if !ok || key == "" {
		key = "sent_at"
	}
	o.SortBy = key
	if o.SortOrder == 0 {
		o.SortOrder = SortDesc
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Filter represents a query filter with a field key, comparison operator, and value.
type Filter struct {
	key      string
	value    any
	operator string
}

// Key returns the storage field key.
func (f Filter) Key() string { return f.key }

// Value returns the filter value.
func (f Filter) Value() any { return f.value }

// Operator returns the comparison operator (eq, ne, gt, gte, lt, lte).
func (f Filter) Operator() string { return f.operator }

// FilterBuilder builds filters for a specific mail field.
// Use MailFilter() to create one, then chain a comparison method:
//
//	filter, err := store.MailFilter("SentAt").LessThan(cutoff)
type FilterBuilder struct {
	key string
	err error
}

// validOperators is the set of supported filter operators.
var validOperators = map[string]bool{
	"eq":  true,
	"ne":  true,
	"gt":  true,
	"gte": true,
	"lt":  true,
	"lte": true,
}

// NewFilter creates a filter with the given key, operator, and value.
// Returns ErrFilterInvalid if the key or operator is invalid.
func NewFilter(key, operator string, value any) (Filter, error) {
	storageKey, ok := MailFieldKey(key)
	if !ok {
		return Filter{}, fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, key)
	}
	if !validOperators[operator] {
		return Filter{}, fmt.Errorf("%w: unsupported operator: %s", ErrFilterInvalid, operator)
	}
	return Filter{key: storageKey, value: value, operator: operator}, nil
}

// FilterError represents an error in filter building.
type FilterError struct {
	Key string
	Err error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Key, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func (b *FilterBuilder) build(op string, v any) (Filter, error) {
	if b.err != nil {
		return Filter{}, &FilterError{Key: b.key, Err: b.err}
	}
	return Filter{key: b.key, value: v, operator: op}, nil
}

func (b *FilterBuilder) Equal(v any) (Filter, error)            { return b.build("eq", v) }
func (b *FilterBuilder) NotEqual(v any) (Filter, error)         { return b.build("ne", v) }
func (b *FilterBuilder) GreaterThan(v any) (Filter, error)      { return b.build("gt", v) }
func (b *FilterBuilder) GreaterThanEqual(v any) (Filter, error) { return b.build("gte", v) }
func (b *FilterBuilder) LessThan(v any) (Filter, error)         { return b.build("lt", v) }
func (b *FilterBuilder) LessThanEqual(v any) (Filter, error)    { return b.build("lte", v) }

// MailFilter returns a filter builder for mail fields.
func MailFilter(field string) *FilterBuilder {
	key, ok := MailFieldKey(field)
	if !ok {
		return &FilterBuilder{key: field, err: fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, field)}
	}
	return &FilterBuilder{key: key}
}

// MailFieldKey maps field names to storage keys.
// Both the Go field name and the storage key are accepted.
func MailFieldKey(field string) (string, bool) {
	switch field {
	case "ID", "id":
		return "id", true
	case "SenderID", "sender_id":
		return "sender_id", true
	case "ReceiverID", "receiver_id":
		return "receiver_id", true
	case "SentAt", "sent_at":
		return "sent_at", true
	case "Read", "is_read":
		return "is_read", true
	case "Claimed", "claimed":
		return "claimed", true
	case "CommandsExecuted", "commands_executed":
		return "commands_executed", true
	case "DeletedBySender", "deleted_by_sender":
		return "deleted_by_sender", true
	case "DeletedByReceiver", "deleted_by_receiver":
		return "deleted_by_receiver", true
	default:
		return "", false
	}
}

// Convenience filter functions

// SenderIs returns a filter for mail from a specific sender.
func SenderIs(senderID string) Filter {
	f, _ := MailFilter("SenderID").Equal(senderID)
	return f
}

// ReceiverIs returns a filter for mail addressed to a specific receiver.
func ReceiverIs(receiverID string) Filter {
	f, _ := MailFilter("ReceiverID").Equal(receiverID)
	return f
}

// IsRead returns a filter for read or unread mail.
func IsRead(read bool) Filter {
	f, _ := MailFilter("Read").Equal(read)
	return f
}

// NotDeletedBySender excludes mail the sender has deleted.
func NotDeletedBySender() Filter {
	f, _ := MailFilter("DeletedBySender").Equal(false)
	return f
}

// NotDeletedByReceiver excludes mail the receiver has deleted.
func NotDeletedByReceiver() Filter {
	f, _ := MailFilter("DeletedByReceiver").Equal(false)
	return f
}

// DeletedByBoth returns the filters matching mail both sides have deleted.
func DeletedByBoth() []Filter {
	s, _ := MailFilter("DeletedBySender").Equal(true)
	r, _ := MailFilter("DeletedByReceiver").Equal(true)
	return []Filter{s, r}
}

// Inbox returns the filters for a receiver's visible mail.
func Inbox(receiverID string) []Filter {
	return []Filter{ReceiverIs(receiverID), NotDeletedByReceiver()}
}

// Sentbox returns the filters for a sender's visible mail.
func Sentbox(senderID string) []Filter {
	return []Filter{SenderIs(senderID), NotDeletedBySender()}
}

// Field returns the value of the field addressed by a storage key.
func (m *Mail) Field(key string) (any, bool) {
	switch key {
	case "id":
		return m.ID, true
	case "sender_id":
		return m.SenderID, true
	case "receiver_id":
		return m.ReceiverID, true
	case "sent_at":
		return m.SentAt, true
	case "is_read":
		return m.Read, true
	case "claimed":
		return m.Claimed, true
	case "commands_executed":
		return m.CommandsExecuted, true
	case "deleted_by_sender":
		return m.DeletedBySender, true
	case "deleted_by_receiver":
		return m.DeletedByReceiver, true
	default:
		return nil, false
	}
}

// Matches reports whether the record satisfies the filter.
// Used by stores that evaluate filters in process.
func (f Filter) Matches(m *Mail) bool {
	fieldValue, ok := m.Field(f.key)
	if !ok {
		return false
	}
	switch f.operator {
	case "eq", "":
		return fieldValue == f.value
	case "ne":
		return fieldValue != f.value
	case "lt":
		return compareValues(fieldValue, f.value) < 0
	case "lte":
		return compareValues(fieldValue, f.value) <= 0
	case "gt":
		return compareValues(fieldValue, f.value) > 0
	case "gte":
		return compareValues(fieldValue, f.value) >= 0
	default:
		return false
	}
}

// MatchAll reports whether the record satisfies every filter.
func MatchAll(m *Mail, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(m) {
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0
		}
		return av.Compare(bv)
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv, ok := b.(bool)
		if !ok || av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	}
	return 0
}

// SortAndPage orders records by opts and applies offset and limit.
// Ties are broken by ID so ordering is deterministic.
func SortAndPage(mails []*Mail, opts ListOptions) []*Mail {
	opts = opts.Normalize()
	sort.SliceStable(mails, func(i, j int) bool {
		a, _ := mails[i].Field(opts.SortBy)
		b, _ := mails[j].Field(opts.SortBy)
		c := compareValues(a, b)
		if c == 0 {
			return mails[i].ID < mails[j].ID
		}
		if opts.SortOrder == SortAsc {
			return c < 0
		}
		return c > 0
	})
	if opts.Offset >= len(mails) {
		return nil
	}
	mails = mails[opts.Offset:]
	if opts.Limit > 0 && len(mails) > opts.Limit {
		mails = mails[:opts.Limit]
	}
	return mails
}
