// Package storetest provides a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rbaliyan/playermail/store"
)

// Run exercises the store returned by newStore. Each subtest gets a fresh,
// connected store which is closed on cleanup.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	open := func(t *testing.T) store.Store {
		s := newStore(t)
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { s.Close(ctx) })
		return s
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mail := func(id, sender, receiver string, offset time.Duration) *store.Mail {
		return &store.Mail{
			ID:           id,
			SenderID:     sender,
			SenderName:   "name-" + sender,
			ReceiverID:   receiver,
			ReceiverName: "name-" + receiver,
			Subject:      "subject " + id,
			Body:         "body " + id,
			Commands:     []string{"say hi"},
			SentAt:       base.Add(offset),
		}
	}

	t.Run("requires connect", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "x"); !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("double connect", func(t *testing.T) {
		s := open(t)
		if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("insert and get", func(t *testing.T) {
		s := open(t)
		m := mail("m1", "alice", "bob", 0)
		m.Attachment = "payload"
		if err := s.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
		got, err := s.Get(ctx, "m1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ReceiverID != "bob" || got.Attachment != "payload" || got.Subject != "subject m1" {
			t.Errorf("unexpected record: %+v", got)
		}
		if len(got.Commands) != 1 || got.Commands[0] != "say hi" {
			t.Errorf("commands not preserved: %v", got.Commands)
		}
		if !got.SentAt.Equal(m.SentAt) {
			t.Errorf("sent_at = %v, want %v", got.SentAt, m.SentAt)
		}
		if err := s.Insert(ctx, m); !errors.Is(err, store.ErrDuplicateEntry) {
			t.Errorf("expected ErrDuplicateEntry, got %v", err)
		}
	})

	t.Run("get returns a copy", func(t *testing.T) {
		s := open(t)
		if err := s.Insert(ctx, mail("m1", "alice", "bob", 0)); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, "m1")
		got.Read = true
		again, _ := s.Get(ctx, "m1")
		if again.Read {
			t.Error("mutating a returned record changed the store")
		}
	})

	t.Run("update", func(t *testing.T) {
		s := open(t)
		m := mail("m1", "alice", "bob", 0)
		if err := s.Insert(ctx, m); err != nil {
			t.Fatal(err)
		}
		m.Read = true
		m.DeletedBySender = true
		if err := s.Update(ctx, m); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, _ := s.Get(ctx, "m1")
		if !got.Read || !got.DeletedBySender || got.DeletedByReceiver {
			t.Errorf("flags not persisted: %+v", got)
		}
		if err := s.Update(ctx, mail("missing", "a", "b", 0)); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		if err := s.Insert(ctx, mail("m1", "alice", "bob", 0)); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "m1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.Get(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.Delete(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("find filters and orders", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 5; i++ {
			m := mail(fmt.Sprintf("m%d", i), "alice", "bob", time.Duration(i)*time.Minute)
			if i == 2 {
				m.DeletedByReceiver = true
			}
			if i == 3 {
				m.Read = true
			}
			if err := s.Insert(ctx, m); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Insert(ctx, mail("other", "carol", "dave", 0)); err != nil {
			t.Fatal(err)
		}

		inbox, err := s.Find(ctx, store.Inbox("bob"), store.ListOptions{})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := []string{"m4", "m3", "m1", "m0"}
		if len(inbox) != len(want) {
			t.Fatalf("got %d records, want %d", len(inbox), len(want))
		}
		for i, id := range want {
			if inbox[i].ID != id {
				t.Errorf("position %d: got %s, want %s", i, inbox[i].ID, id)
			}
		}

		sent, err := s.Find(ctx, store.Sentbox("alice"), store.ListOptions{Limit: 2, SortOrder: store.SortAsc})
		if err != nil {
			t.Fatal(err)
		}
		if len(sent) != 2 || sent[0].ID != "m0" || sent[1].ID != "m1" {
			t.Errorf("unexpected ascending page: %v", ids(sent))
		}

		unread, err := s.Count(ctx, append(store.Inbox("bob"), store.IsRead(false)))
		if err != nil {
			t.Fatal(err)
		}
		if unread != 3 {
			t.Errorf("unread = %d, want 3", unread)
		}
	})

	t.Run("converged filter", func(t *testing.T) {
		s := open(t)
		a := mail("a", "alice", "bob", 0)
		a.DeletedBySender, a.DeletedByReceiver = true, true
		b := mail("b", "alice", "bob", 0)
		b.DeletedBySender = true
		for _, m := range []*store.Mail{a, b} {
			if err := s.Insert(ctx, m); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.Find(ctx, store.DeletedByBoth(), store.ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "a" {
			t.Errorf("got %v, want [a]", ids(got))
		}
	})
}

func ids(mails []*store.Mail) []string {
	out := make([]string, len(mails))
	for i, m := range mails {
		out[i] = m.ID
	}
	return out
}
