package store

import (
	"time"
)

// Mail is the persisted unit representing one message from one sender to
// one receiver, optionally carrying an item attachment and deferred commands.
type Mail struct {
	ID string `json:"id"`

	// SenderID is empty for system-originated mail.
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name"`

	ReceiverID   string `json:"receiver_id"`
	ReceiverName string `json:"receiver_name"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Attachment is an opaque item payload produced by the item package.
	// Empty means no attachment. It never changes after creation.
	Attachment string `json:"attachment,omitempty"`

	// Commands run once, on the receiver's first read.
	Commands []string `json:"commands,omitempty"`

	SentAt time.Time `json:"sent_at"`

	Read              bool `json:"read"`
	Claimed           bool `json:"claimed"`
	CommandsExecuted  bool `json:"commands_executed"`
	DeletedBySender   bool `json:"deleted_by_sender"`
	DeletedByReceiver bool `json:"deleted_by_receiver"`
}

// HasAttachment reports whether the mail carries an item payload.
func (m *Mail) HasAttachment() bool { return m.Attachment != "" }

// HasCommands reports whether the mail carries deferred commands.
func (m *Mail) HasCommands() bool { return len(m.Commands) > 0 }

// IsSystem reports whether the mail was sent by the server rather than a player.
func (m *Mail) IsSystem() bool { return m.SenderID == "" }

// Unclaimed reports whether the mail still holds items the receiver has not taken.
func (m *Mail) Unclaimed() bool { return m.HasAttachment() && !m.Claimed }

// Converged reports whether both sides have deleted the mail.
func (m *Mail) Converged() bool { return m.DeletedBySender && m.DeletedByReceiver }

// SentAtMillis returns the send time as Unix epoch milliseconds.
func (m *Mail) SentAtMillis() int64 { return m.SentAt.UnixMilli() }

// Validate checks the fields every stored record must have.
func (m *Mail) Validate() error {
	if m.ID == "" {
		return ErrInvalidID
	}
	if m.ReceiverID == "" {
		return ErrInvalidMail
	}
	return nil
}

// Clone returns a deep copy.
func (m *Mail) Clone() *Mail {
	if m == nil {
		return nil
	}
	c := *m
	if m.Commands != nil {
		c.Commands = append([]string(nil), m.Commands...)
	}
	return &c
}

// CopyFlags copies the mutable lifecycle flags from src.
func (m *Mail) CopyFlags(src *Mail) {
	m.Read = src.Read
	m.Claimed = src.Claimed
	m.CommandsExecuted = src.CommandsExecuted
	m.DeletedBySender = src.DeletedBySender
	m.DeletedByReceiver = src.DeletedByReceiver
}
