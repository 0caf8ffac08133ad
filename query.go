package playermail

import (
	"context"
	"time"

	"github.com/rbaliyan/playermail/store"
	"go.opentelemetry.io/otel/attribute"
)

func (s *service) Inbox(ctx context.Context, receiverID string) ([]*store.Mail, error) {
	return s.list(ctx, "inbox", store.Inbox(receiverID))
}

func (s *service) Sent(ctx context.Context, senderID string) ([]*store.Mail, error) {
	return s.list(ctx, "sent", store.Sentbox(senderID))
}

// list returns matching records newest first, ties by ID.
func (s *service) list(ctx context.Context, box string, filters []store.Filter) ([]*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, endSpan := s.otel.startSpan(ctx, "playermail."+box, attribute.String("box", box))
	start := time.Now()

	mails, err := s.store.Find(ctx, filters, store.ListOptions{
		SortBy:    "sent_at",
		SortOrder: store.SortDesc,
	})
	err = mapStoreErr("list "+box, err)

	endSpan(err)
	s.otel.recordList(ctx, time.Since(start), box, len(mails), err)
	if err != nil {
		return nil, err
	}
	return mails, nil
}

func (s *service) UnreadCount(ctx context.Context, receiverID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	n, err := s.store.Count(ctx, append(store.Inbox(receiverID), store.IsRead(false)))
	if err != nil {
		return 0, mapStoreErr("count unread", err)
	}
	return n, nil
}

func (s *service) Get(ctx context.Context, id string) (*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidRequest
	}
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr("get mail", err)
	}
	return m, nil
}
