package playermail

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names, prefixed per service by the bus name.
const (
	EventNameMailSent    = "playermail.mail.sent"
	EventNameMailRead    = "playermail.mail.read"
	EventNameMailClaimed = "playermail.mail.claimed"
	EventNameMailDeleted = "playermail.mail.deleted"
)

// MailSentEvent is published after a record is stored.
type MailSentEvent struct {
	MailID     string    `json:"mail_id"`
	SenderID   string    `json:"sender_id,omitempty"` // empty for system mail
	ReceiverID string    `json:"receiver_id"`
	Subject    string    `json:"subject"`
	Items      int       `json:"items"`
	Commands   int       `json:"commands"`
	SentAt     time.Time `json:"sent_at"`
}

// MailReadEvent is published the first time the receiver opens a mail.
type MailReadEvent struct {
	MailID     string    `json:"mail_id"`
	ReceiverID string    `json:"receiver_id"`
	ReadAt     time.Time `json:"read_at"`
}

// MailClaimedEvent is published when attached items are handed over.
type MailClaimedEvent struct {
	MailID     string    `json:"mail_id"`
	ReceiverID string    `json:"receiver_id"`
	Items      int       `json:"items"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// MailDeletedEvent is published when a record is hard-deleted,
// i.e. after both sides have deleted it.
type MailDeletedEvent struct {
	MailID    string    `json:"mail_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Archived  bool      `json:"archived"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
//
//	svc.Events().MailSent.Subscribe(ctx, handler)
type ServiceEvents struct {
	MailSent    event.Event[MailSentEvent]
	MailRead    event.Event[MailReadEvent]
	MailClaimed event.Event[MailClaimedEvent]
	MailDeleted event.Event[MailDeletedEvent]
}

func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MailSent:    event.New[MailSentEvent](namePrefix + "." + EventNameMailSent),
		MailRead:    event.New[MailReadEvent](namePrefix + "." + EventNameMailRead),
		MailClaimed: event.New[MailClaimedEvent](namePrefix + "." + EventNameMailClaimed),
		MailDeleted: event.New[MailDeletedEvent](namePrefix + "." + EventNameMailDeleted),
	}
}

func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MailSent); err != nil {
		return fmt.Errorf("register MailSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailRead); err != nil {
		return fmt.Errorf("register MailRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailClaimed); err != nil {
		return fmt.Errorf("register MailClaimed: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailDeleted); err != nil {
		return fmt.Errorf("register MailDeleted: %w", err)
	}
	return nil
}

// publish sends data on ev, reporting failures through the configured callback.
func publish[T any](ctx context.Context, o *options, ev event.Event[T], name string, data T) {
	if err := ev.Publish(ctx, data); err != nil {
		o.safeEventPublishFailure(name, err)
	}
}
