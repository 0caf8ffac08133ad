package playermail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/playermail/archive"
	"github.com/rbaliyan/playermail/item"
	"github.com/rbaliyan/playermail/store"
	"github.com/rbaliyan/playermail/store/memory"
)

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.CanEmail() {
			t.Error("expected no email capability without a mailer")
		}
	})

	t.Run("detects email capability", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()), WithMailer(newFakeHost()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !svc.CanEmail() {
			t.Error("expected email capability")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	svc, err := NewService(WithStore(memory.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Inbox(ctx, "p1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before connect, got %v", err)
	}

	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !svc.IsConnected() {
		t.Error("expected connected")
	}
	if svc.Events() == nil {
		t.Error("expected events after connect")
	}

	// Double connect should fail
	if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Double close should be safe
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second close should not error, got %v", err)
	}
	if _, err := svc.Send(ctx, SendRequest{SenderID: "p1", ReceiverName: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("online receiver is notified", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Subject: "Hi", Body: "hello"})

		if m.ID == "" {
			t.Error("expected an ID")
		}
		if m.SenderID != steve.ID || m.ReceiverID != alex.ID {
			t.Errorf("unexpected parties %q -> %q", m.SenderID, m.ReceiverID)
		}
		if m.Read || m.Claimed || m.CommandsExecuted || m.DeletedBySender || m.DeletedByReceiver {
			t.Error("new mail must have every flag cleared")
		}
		if m.HasAttachment() {
			t.Error("expected no attachment")
		}
		if !m.SentAt.Equal(env.clock.Now().Add(-DefaultCooldown - time.Second)) {
			t.Errorf("unexpected SentAt %v", m.SentAt)
		}

		told := env.host.toldTo(alex.ID)
		if len(told) != 1 || told[0] != "[Server] You have new mail from Steve." {
			t.Errorf("unexpected notice %v", told)
		}
		if env.store.Len() != 1 {
			t.Errorf("expected 1 record, got %d", env.store.Len())
		}
	})

	t.Run("offline receiver resolved from history", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, herob, SendRequest{Subject: "Boo"})
		if m.ReceiverID != herob.ID {
			t.Errorf("expected %s, got %s", herob.ID, m.ReceiverID)
		}
		if told := env.host.toldTo(herob.ID); len(told) != 0 {
			t.Errorf("offline player should not be told, got %v", told)
		}
	})

	t.Run("unknown receiver", func(t *testing.T) {
		env := setupTestService(t)
		_, err := env.svc.Send(ctx, SendRequest{SenderID: steve.ID, SenderName: "Steve", ReceiverName: "Notch"})
		if !errors.Is(err, ErrPlayerNotFound) {
			t.Errorf("expected ErrPlayerNotFound, got %v", err)
		}
		if env.store.Len() != 0 {
			t.Error("nothing should be stored")
		}
	})

	t.Run("requires sender", func(t *testing.T) {
		env := setupTestService(t)
		_, err := env.svc.Send(ctx, SendRequest{ReceiverName: "Alex"})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("length limits count characters", func(t *testing.T) {
		env := setupTestService(t)
		env.send(t, steve, alex, SendRequest{Subject: strings.Repeat("é", 50), Body: strings.Repeat("ж", 500)})

		_, err := env.svc.Send(ctx, SendRequest{
			SenderID: steve.ID, ReceiverName: "Alex", Subject: strings.Repeat("é", 51),
		})
		if !errors.Is(err, ErrSubjectTooLong) || !IsValidationError(err) {
			t.Errorf("expected subject validation error, got %v", err)
		}

		_, err = env.svc.Send(ctx, SendRequest{
			SenderID: steve.ID, ReceiverName: "Alex", Body: strings.Repeat("a", 501),
		})
		if !errors.Is(err, ErrBodyTooLong) {
			t.Errorf("expected ErrBodyTooLong, got %v", err)
		}
	})

	t.Run("empty subject allowed", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Body: "no subject"})
		if m.Subject != "" {
			t.Errorf("expected empty subject, got %q", m.Subject)
		}
	})

	t.Run("custom limits", func(t *testing.T) {
		env := setupTestService(t, WithMaxSubjectLength(5), WithMaxItems(1))
		_, err := env.svc.Send(ctx, SendRequest{SenderID: steve.ID, ReceiverName: "Alex", Subject: "toolong"})
		if !errors.Is(err, ErrSubjectTooLong) {
			t.Errorf("expected ErrSubjectTooLong, got %v", err)
		}
		_, err = env.svc.Send(ctx, SendRequest{SenderID: steve.ID, ReceiverName: "Alex", Items: stacks("A", "B")})
		if !errors.Is(err, ErrTooManyItems) {
			t.Errorf("expected ErrTooManyItems, got %v", err)
		}
	})
}

func TestSendCooldown(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	req := SendRequest{SenderID: steve.ID, SenderName: "Steve", ReceiverName: "Alex"}

	if _, err := env.svc.Send(ctx, req); err != nil {
		t.Fatalf("first send: %v", err)
	}

	_, err := env.svc.Send(ctx, req)
	if !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
	var ce *CooldownError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CooldownError, got %T", err)
	}
	if ce.Remaining != DefaultCooldown {
		t.Errorf("expected %v remaining, got %v", DefaultCooldown, ce.Remaining)
	}

	t.Run("other senders unaffected", func(t *testing.T) {
		if _, err := env.svc.Send(ctx, SendRequest{SenderID: alex.ID, ReceiverName: "Steve"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("window passes", func(t *testing.T) {
		env.clock.Advance(10 * time.Second)
		_, err := env.svc.Send(ctx, req)
		var ce *CooldownError
		if !errors.As(err, &ce) || ce.Remaining != 20*time.Second {
			t.Fatalf("expected 20s remaining, got %v", err)
		}
		env.clock.Advance(20 * time.Second)
		if _, err := env.svc.Send(ctx, req); err != nil {
			t.Errorf("expected send after window, got %v", err)
		}
	})

	t.Run("failed send does not start cooldown", func(t *testing.T) {
		env := setupTestService(t)
		if _, err := env.svc.Send(ctx, SendRequest{SenderID: steve.ID, ReceiverName: "Notch"}); err == nil {
			t.Fatal("expected failure")
		}
		if _, err := env.svc.Send(ctx, req); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		env := setupTestService(t, WithCooldown(0))
		for i := 0; i < 3; i++ {
			if _, err := env.svc.Send(ctx, req); err != nil {
				t.Fatalf("send %d: %v", i, err)
			}
		}
	})
}

func TestSendItems(t *testing.T) {
	ctx := context.Background()

	t.Run("air and nil are dropped", func(t *testing.T) {
		env := setupTestService(t)
		in := append(stacks("DIAMOND", "AIR", "cave_air"), nil, &item.Stack{Material: "STONE", Amount: 0})
		m := env.send(t, steve, alex, SendRequest{Items: in})

		got, err := item.Decode(m.Attachment)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 1 || got[0].Material != "DIAMOND" {
			t.Errorf("unexpected stacks %+v", got)
		}
	})

	t.Run("only air means no attachment", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Items: stacks("AIR")})
		if m.HasAttachment() {
			t.Error("expected no attachment")
		}
	})

	t.Run("cap counts real stacks", func(t *testing.T) {
		env := setupTestService(t)
		full := make([]string, DefaultMaxItems)
		for i := range full {
			full[i] = "DIRT"
		}
		padded := append(stacks(full...), stacks("AIR", "AIR")...)
		m := env.send(t, steve, alex, SendRequest{Items: padded})
		if n := item.Count(m.Attachment); n != DefaultMaxItems {
			t.Errorf("expected %d stacks, got %d", DefaultMaxItems, n)
		}

		over := append(stacks(full...), stacks("DIRT")...)
		_, err := env.svc.Send(ctx, SendRequest{SenderID: steve.ID, ReceiverName: "Alex", Items: over})
		if !errors.Is(err, ErrTooManyItems) {
			t.Errorf("expected ErrTooManyItems, got %v", err)
		}
	})

	t.Run("caller stacks are copied", func(t *testing.T) {
		env := setupTestService(t)
		in := []*item.Stack{{Material: "SWORD", Amount: 1, Lore: []string{"sharp"}}}
		m := env.send(t, steve, alex, SendRequest{Items: in})
		in[0].Lore[0] = "changed"

		got, _ := item.Decode(m.Attachment)
		if got[0].Lore[0] != "sharp" {
			t.Error("attachment changed with caller's stack")
		}
	})

	t.Run("blank commands dropped", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Commands: []string{"", "give %player% cake", ""}})
		if len(m.Commands) != 1 {
			t.Errorf("expected 1 command, got %v", m.Commands)
		}
	})
}

func TestSendSystem(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	long := strings.Repeat("x", 200)
	for i := 0; i < 2; i++ {
		m, err := env.svc.SendSystem(ctx, SendRequest{SenderID: "ignored", ReceiverName: "Alex", Subject: long})
		if err != nil {
			t.Fatalf("system send %d: %v", i, err)
		}
		if !m.IsSystem() {
			t.Error("expected system mail")
		}
		if m.SenderName != DefaultSystemSenderName {
			t.Errorf("expected sender name %q, got %q", DefaultSystemSenderName, m.SenderName)
		}
	}

	t.Run("custom sender name", func(t *testing.T) {
		m, err := env.svc.SendSystem(ctx, SendRequest{SenderName: "Shop", ReceiverName: "Herobrine"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.SenderName != "Shop" {
			t.Errorf("expected Shop, got %q", m.SenderName)
		}
	})

	t.Run("item cap still applies", func(t *testing.T) {
		many := make([]string, DefaultMaxItems+1)
		for i := range many {
			many[i] = "GOLD"
		}
		_, err := env.svc.SendSystem(ctx, SendRequest{ReceiverName: "Alex", Items: stacks(many...)})
		if !errors.Is(err, ErrTooManyItems) {
			t.Errorf("expected ErrTooManyItems, got %v", err)
		}
	})

	t.Run("unknown receiver", func(t *testing.T) {
		_, err := env.svc.SendSystem(ctx, SendRequest{ReceiverName: "Notch"})
		if !errors.Is(err, ErrPlayerNotFound) {
			t.Errorf("expected ErrPlayerNotFound, got %v", err)
		}
	})
}

func TestSendBatch(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	req := SendRequest{SenderID: steve.ID, SenderName: "Steve", Subject: "Party", Items: stacks("CAKE")}
	res, err := env.svc.SendBatch(ctx, req, []string{"Alex", "Herobrine", "Notch", "Alex", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 distinct receivers, got %d", len(res.Results))
	}
	if res.SuccessCount() != 2 || res.FailureCount() != 1 {
		t.Errorf("expected 2/1, got %d/%d", res.SuccessCount(), res.FailureCount())
	}
	if got := res.FailedReceivers(); len(got) != 1 || got[0] != "Notch" {
		t.Errorf("unexpected failed receivers %v", got)
	}
	batchErr := res.Err()
	var be *BatchError
	if !errors.As(batchErr, &be) || !errors.Is(batchErr, ErrPlayerNotFound) {
		t.Errorf("expected BatchError wrapping ErrPlayerNotFound, got %v", batchErr)
	}

	mails := res.Mails()
	if mails[0].ID == mails[1].ID {
		t.Error("each receiver needs its own record")
	}

	t.Run("records are independent", func(t *testing.T) {
		if _, err := env.svc.ClaimItems(ctx, mails[0], alex); err != nil {
			t.Fatalf("claim: %v", err)
		}
		other, err := env.svc.Get(ctx, mails[1].ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if other.Claimed {
			t.Error("claiming one copy claimed another")
		}
	})

	t.Run("cooldown applies once", func(t *testing.T) {
		_, err := env.svc.SendBatch(ctx, req, []string{"Alex"})
		if !errors.Is(err, ErrCooldown) {
			t.Errorf("expected ErrCooldown, got %v", err)
		}
	})

	t.Run("no recipients", func(t *testing.T) {
		_, err := env.svc.SendBatch(ctx, SendRequest{SenderID: alex.ID}, []string{"", ""})
		if !errors.Is(err, ErrNoRecipients) {
			t.Errorf("expected ErrNoRecipients, got %v", err)
		}
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	first := env.send(t, steve, alex, SendRequest{Subject: "one"})
	second := env.send(t, steve, alex, SendRequest{Subject: "two"})
	third := env.send(t, herob, alex, SendRequest{Subject: "three"})
	env.send(t, alex, steve, SendRequest{Subject: "reply"})

	t.Run("inbox newest first", func(t *testing.T) {
		inbox, err := env.svc.Inbox(ctx, alex.ID)
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		want := []string{third.ID, second.ID, first.ID}
		if len(inbox) != len(want) {
			t.Fatalf("expected %d mails, got %d", len(want), len(inbox))
		}
		for i, id := range want {
			if inbox[i].ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, inbox[i].ID)
			}
		}
	})

	t.Run("sent", func(t *testing.T) {
		sent, err := env.svc.Sent(ctx, steve.ID)
		if err != nil {
			t.Fatalf("sent: %v", err)
		}
		if len(sent) != 2 || sent[0].ID != second.ID {
			t.Errorf("unexpected sent list %v", sent)
		}
	})

	t.Run("unread count", func(t *testing.T) {
		n, err := env.svc.UnreadCount(ctx, alex.ID)
		if err != nil || n != 3 {
			t.Fatalf("expected 3 unread, got %d (%v)", n, err)
		}
		if err := env.svc.MarkAsRead(ctx, first); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		n, _ = env.svc.UnreadCount(ctx, alex.ID)
		if n != 2 {
			t.Errorf("expected 2 unread, got %d", n)
		}
	})

	t.Run("empty mailbox", func(t *testing.T) {
		inbox, err := env.svc.Inbox(ctx, "nobody")
		if err != nil || len(inbox) != 0 {
			t.Errorf("expected empty inbox, got %v (%v)", inbox, err)
		}
	})

	t.Run("get", func(t *testing.T) {
		if _, err := env.svc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := env.svc.Get(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestMarkAsRead(t *testing.T) {
	ctx := context.Background()
	hook := &recordingHook{}
	env := setupTestService(t, WithPlugin(hook))
	m := env.send(t, steve, alex, SendRequest{Subject: "hi"})

	if err := env.svc.MarkAsRead(ctx, m); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !m.Read {
		t.Error("caller copy not updated")
	}
	stored, _ := env.svc.Get(ctx, m.ID)
	if !stored.Read {
		t.Error("read flag not persisted")
	}
	// Idempotent
	if err := env.svc.MarkAsRead(ctx, m); err != nil {
		t.Errorf("second mark read: %v", err)
	}
	if hook.delivered() != 1 {
		t.Errorf("expected 1 delivery hook call, got %d", hook.delivered())
	}
}

func TestClaimItems(t *testing.T) {
	ctx := context.Background()

	t.Run("claims once", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND", "EMERALD")})

		got, err := env.svc.ClaimItems(ctx, m, alex)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 stacks, got %d", len(got))
		}
		if !m.Claimed {
			t.Error("caller copy not marked claimed")
		}
		if given := env.host.givenTo(alex.ID); len(given) != 2 {
			t.Errorf("expected 2 stacks given, got %d", len(given))
		}

		again, err := env.svc.ClaimItems(ctx, m, alex)
		if err != nil || len(again) != 0 {
			t.Errorf("second claim should be empty, got %v (%v)", again, err)
		}
		if given := env.host.givenTo(alex.ID); len(given) != 2 {
			t.Errorf("items given twice: %d", len(given))
		}
	})

	t.Run("stale copy cannot claim again", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND")})
		stale, _ := env.svc.Get(ctx, m.ID)

		if _, err := env.svc.ClaimItems(ctx, m, alex); err != nil {
			t.Fatalf("claim: %v", err)
		}
		got, err := env.svc.ClaimItems(ctx, stale, alex)
		if err != nil || len(got) != 0 {
			t.Errorf("stale claim should be empty, got %v (%v)", got, err)
		}
		if !stale.Claimed {
			t.Error("stale copy should be refreshed")
		}
		if given := env.host.givenTo(alex.ID); len(given) != 1 {
			t.Errorf("expected 1 stack given, got %d", len(given))
		}
	})

	t.Run("stale read does not revert claim", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND")})
		stale, _ := env.svc.Get(ctx, m.ID)

		if _, err := env.svc.ClaimItems(ctx, m, alex); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := env.svc.MarkAsRead(ctx, stale); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		stored, _ := env.svc.Get(ctx, m.ID)
		if !stored.Claimed || !stored.Read {
			t.Errorf("expected claimed and read, got %+v", stored)
		}
	})

	t.Run("no attachment", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Subject: "text only"})
		got, err := env.svc.ClaimItems(ctx, m, alex)
		if err != nil || got != nil {
			t.Errorf("expected nothing, got %v (%v)", got, err)
		}
		if m.Claimed {
			t.Error("mail without attachment should not be marked claimed")
		}
	})

	t.Run("only receiver", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND")})
		if _, err := env.svc.ClaimItems(ctx, m, steve); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("corrupt payload", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND")})
		m.Attachment = "garbage"
		raw, _ := env.store.Get(ctx, m.ID)
		raw.Attachment = "garbage"
		if err := env.store.Update(ctx, raw); err != nil {
			t.Fatalf("corrupt record: %v", err)
		}

		got, err := env.svc.ClaimItems(ctx, m, alex)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected zero items, got %d", len(got))
		}
		stored, _ := env.svc.Get(ctx, m.ID)
		if !stored.Claimed {
			t.Error("corrupt mail should still be marked claimed")
		}
		if given := env.host.givenTo(alex.ID); len(given) != 0 {
			t.Errorf("nothing should be given, got %d", len(given))
		}
	})
}

func TestExecuteCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("runs once with placeholder", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Commands: []string{
			"warp spawn",
			"console: give %player% diamond 1",
		}})

		if err := env.svc.ExecuteCommands(ctx, alex, m); err != nil {
			t.Fatalf("execute: %v", err)
		}
		got := env.host.ranCommands()
		want := []string{alex.ID + ":warp spawn", "console:give Alex diamond 1"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("command %d: expected %q, got %q", i, want[i], got[i])
			}
		}

		stale, _ := env.store.Get(ctx, m.ID)
		stale.CommandsExecuted = false
		if err := env.svc.ExecuteCommands(ctx, alex, m); err != nil {
			t.Fatalf("second execute: %v", err)
		}
		if err := env.svc.ExecuteCommands(ctx, alex, stale); err != nil {
			t.Fatalf("stale execute: %v", err)
		}
		if n := len(env.host.ranCommands()); n != 2 {
			t.Errorf("commands ran again: %d", n)
		}
	})

	t.Run("custom syntax", func(t *testing.T) {
		env := setupTestService(t, WithCommandSyntax("{p}", "#"))
		m := env.send(t, steve, alex, SendRequest{Commands: []string{"#say hi {p}"}})
		if err := env.svc.ExecuteCommands(ctx, alex, m); err != nil {
			t.Fatalf("execute: %v", err)
		}
		if got := env.host.ranCommands(); len(got) != 1 || got[0] != "console:say hi Alex" {
			t.Errorf("unexpected commands %v", got)
		}
	})

	t.Run("only receiver", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{Commands: []string{"op Steve"}})
		if err := env.svc.ExecuteCommands(ctx, steve, m); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if len(env.host.ranCommands()) != 0 {
			t.Error("no command should run")
		}
	})

	t.Run("no dispatcher", func(t *testing.T) {
		host := newFakeHost()
		host.join(steve)
		host.join(alex)
		svc, err := NewService(WithStore(memory.New()), WithDirectory(host))
		if err != nil {
			t.Fatal(err)
		}
		if err := svc.Connect(ctx); err != nil {
			t.Fatal(err)
		}
		defer svc.Close(ctx)

		m, err := svc.Send(ctx, SendRequest{SenderID: steve.ID, ReceiverName: "Alex", Commands: []string{"spawn"}})
		if err != nil {
			t.Fatal(err)
		}
		if err := svc.ExecuteCommands(ctx, alex, m); !errors.Is(err, ErrDispatcherRequired) {
			t.Errorf("expected ErrDispatcherRequired, got %v", err)
		}
		stored, _ := svc.Get(ctx, m.ID)
		if stored.CommandsExecuted {
			t.Error("flag must not be set without a dispatcher")
		}

		// Open still marks read.
		res, err := svc.Open(ctx, m, alex)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if res.CommandsRun || !res.Mail.Read {
			t.Errorf("unexpected open result %+v", res)
		}
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	m := env.send(t, steve, alex, SendRequest{
		Subject:  "gift",
		Items:    stacks("DIAMOND"),
		Commands: []string{"console: eco give %player% 10"},
	})

	t.Run("sender views without side effects", func(t *testing.T) {
		view, _ := env.svc.Get(ctx, m.ID)
		res, err := env.svc.Open(ctx, view, steve)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if res.Claimable || res.CommandsRun || view.Read {
			t.Errorf("sender open mutated state: %+v", res)
		}
		if len(res.Items) != 1 {
			t.Errorf("expected item preview, got %d", len(res.Items))
		}
	})

	t.Run("stranger refused", func(t *testing.T) {
		if _, err := env.svc.Open(ctx, m, herob); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("receiver", func(t *testing.T) {
		res, err := env.svc.Open(ctx, m, alex)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !res.Mail.Read || !res.CommandsRun || !res.Claimable {
			t.Errorf("unexpected result %+v", res)
		}
		if got := env.host.ranCommands(); len(got) != 1 || got[0] != "console:eco give Alex 10" {
			t.Errorf("unexpected commands %v", got)
		}

		res, err = env.svc.Open(ctx, m, alex)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if res.CommandsRun {
			t.Error("commands ran twice")
		}
		if n, _ := env.svc.UnreadCount(ctx, alex.ID); n != 0 {
			t.Errorf("expected 0 unread, got %d", n)
		}
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("two-sided convergence", func(t *testing.T) {
		sink := archive.NewMemory()
		env := setupTestService(t, WithArchive(sink))
		m := env.send(t, steve, alex, SendRequest{Subject: "bye"})

		if err := env.svc.Delete(ctx, m, alex.ID); err != nil {
			t.Fatalf("receiver delete: %v", err)
		}
		if inbox, _ := env.svc.Inbox(ctx, alex.ID); len(inbox) != 0 {
			t.Error("expected mail hidden from inbox")
		}
		if sent, _ := env.svc.Sent(ctx, steve.ID); len(sent) != 1 {
			t.Error("sender should still see the mail")
		}
		if env.store.Len() != 1 {
			t.Error("record should remain until both sides delete")
		}

		if err := env.svc.Delete(ctx, m, steve.ID); err != nil {
			t.Fatalf("sender delete: %v", err)
		}
		if env.store.Len() != 0 {
			t.Errorf("expected hard delete, %d records remain", env.store.Len())
		}
		if sink.Len() != 1 {
			t.Errorf("expected 1 archived record, got %d", sink.Len())
		}
	})

	t.Run("system mail converges on receiver delete", func(t *testing.T) {
		env := setupTestService(t)
		m, err := env.svc.SendSystem(ctx, SendRequest{ReceiverName: "Alex", Subject: "news"})
		if err != nil {
			t.Fatal(err)
		}
		if err := env.svc.Delete(ctx, m, alex.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if env.store.Len() != 0 {
			t.Error("system mail should be removed on receiver delete")
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{})
		if err := env.svc.Delete(ctx, m, herob.ID); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("self mail", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, steve, SendRequest{Subject: "note to self"})
		if err := env.svc.Delete(ctx, m, steve.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if env.store.Len() != 0 {
			t.Error("self mail should converge in one delete")
		}
	})

	t.Run("missing record", func(t *testing.T) {
		env := setupTestService(t)
		m := env.send(t, steve, alex, SendRequest{})
		if err := env.store.Delete(ctx, m.ID); err != nil {
			t.Fatal(err)
		}
		if err := env.svc.Delete(ctx, m, alex.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteInbox(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	unclaimed := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND")})
	claimed := env.send(t, steve, alex, SendRequest{Items: stacks("GOLD")})
	read := env.send(t, steve, alex, SendRequest{Subject: "read"})
	env.send(t, steve, alex, SendRequest{Subject: "unread"})

	if _, err := env.svc.ClaimItems(ctx, claimed, alex); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.MarkAsRead(ctx, read); err != nil {
		t.Fatal(err)
	}

	t.Run("read only", func(t *testing.T) {
		n, err := env.svc.DeleteReadByReceiver(ctx, alex.ID)
		if err != nil {
			t.Fatalf("delete read: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 deleted, got %d", n)
		}
	})

	t.Run("all keeps unclaimed", func(t *testing.T) {
		n, err := env.svc.DeleteAllByReceiver(ctx, alex.ID)
		if err != nil {
			t.Fatalf("delete all: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 deleted, got %d", n)
		}
		inbox, _ := env.svc.Inbox(ctx, alex.ID)
		if len(inbox) != 1 || inbox[0].ID != unclaimed.ID {
			t.Errorf("expected only the unclaimed mail to remain, got %v", inbox)
		}
	})
}

func TestUpdateFailure(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: memory.New()}
	env := setupTestService(t, WithStore(fs))
	m := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND"), Commands: []string{"spawn"}})

	fs.set(true, false)

	if err := env.svc.MarkAsRead(ctx, m); !errors.Is(err, errBoom) {
		t.Errorf("expected store error, got %v", err)
	}
	if m.Read {
		t.Error("caller copy changed on failure")
	}
	if _, err := env.svc.ClaimItems(ctx, m, alex); !errors.Is(err, errBoom) {
		t.Errorf("expected store error, got %v", err)
	}
	if m.Claimed || len(env.host.givenTo(alex.ID)) != 0 {
		t.Error("items handed out although the claim was not persisted")
	}
	if err := env.svc.ExecuteCommands(ctx, alex, m); !errors.Is(err, errBoom) {
		t.Errorf("expected store error, got %v", err)
	}
	if len(env.host.ranCommands()) != 0 {
		t.Error("commands ran although the flag was not persisted")
	}

	fs.set(false, false)
	stored, _ := env.svc.Get(ctx, m.ID)
	if stored.Read || stored.Claimed || stored.CommandsExecuted {
		t.Errorf("stored flags changed on failure: %+v", stored)
	}
}

func TestHardDeleteDeferred(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: memory.New()}
	env := setupTestService(t, WithStore(fs))
	m := env.send(t, steve, alex, SendRequest{})

	if err := env.svc.Delete(ctx, m, alex.ID); err != nil {
		t.Fatal(err)
	}
	fs.set(false, true)
	if err := env.svc.Delete(ctx, m, steve.ID); err != nil {
		t.Fatalf("delete should defer, got %v", err)
	}
	if fs.Len() != 1 {
		t.Fatal("record should linger after failed hard delete")
	}
	if sent, _ := env.svc.Sent(ctx, steve.ID); len(sent) != 0 {
		t.Error("deferred record must be hidden from the sender")
	}

	res, err := env.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Failed != 1 || res.Deleted != 0 {
		t.Errorf("expected 1 failure, got %+v", res)
	}

	fs.set(false, false)
	res, err = env.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Deleted != 1 || fs.Len() != 0 {
		t.Errorf("expected record removed, got %+v (%d left)", res, fs.Len())
	}
}

func TestPlayerJoined(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	env.send(t, steve, alex, SendRequest{})
	env.send(t, herob, alex, SendRequest{})

	renamed := Player{ID: alex.ID, Name: "Alexandra"}
	n, err := env.svc.PlayerJoined(ctx, renamed)
	if err != nil {
		t.Fatalf("joined: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 unread, got %d", n)
	}

	told := env.host.toldTo(alex.ID)
	last := told[len(told)-1]
	if last != "[Server] Alexandra, you have 2 unread mail(s)." {
		t.Errorf("unexpected notice %q", last)
	}
	if len(env.host.remembered) != 1 || env.host.remembered[0].LastSeen.IsZero() {
		t.Errorf("expected player remembered with last seen, got %+v", env.host.remembered)
	}

	t.Run("offline player not told", func(t *testing.T) {
		before := len(env.host.toldTo(herob.ID))
		if _, err := env.svc.NotifyUnread(ctx, herob); err != nil {
			t.Fatal(err)
		}
		if len(env.host.toldTo(herob.ID)) != before {
			t.Error("offline player was told")
		}
	})

	t.Run("requires id", func(t *testing.T) {
		if _, err := env.svc.PlayerJoined(ctx, Player{Name: "x"}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestSendHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("before send can reject", func(t *testing.T) {
		errMuted := errors.New("muted")
		hook := &recordingHook{reject: errMuted}
		env := setupTestService(t, WithPlugin(hook))
		_, err := env.svc.Send(ctx, SendRequest{SenderID: steve.ID, ReceiverName: "Alex"})
		var pe *PluginError
		if !errors.As(err, &pe) || !errors.Is(err, errMuted) {
			t.Errorf("expected plugin error, got %v", err)
		}
		if env.store.Len() != 0 {
			t.Error("rejected mail was stored")
		}
	})

	t.Run("sees system mail", func(t *testing.T) {
		hook := &recordingHook{}
		env := setupTestService(t, WithPlugin(hook))
		if _, err := env.svc.SendSystem(ctx, SendRequest{ReceiverName: "Alex"}); err != nil {
			t.Fatal(err)
		}
		if hook.delivered() != 1 || !hook.after[0].IsSystem() {
			t.Error("expected hook to see the system mail")
		}
	})
}

// roomHook vetoes claims while full is set.
type roomHook struct {
	mockPlugin
	full bool
}

var errInventoryFull = errors.New("inventory full")

func (h *roomHook) BeforeClaim(context.Context, *store.Mail, Player) error {
	if h.full {
		return errInventoryFull
	}
	return nil
}

func TestClaimHooks(t *testing.T) {
	ctx := context.Background()
	hook := &roomHook{mockPlugin: mockPlugin{name: "room"}, full: true}
	env := setupTestService(t, WithPlugin(hook))
	m := env.send(t, steve, alex, SendRequest{Items: stacks("DIAMOND")})

	_, err := env.svc.ClaimItems(ctx, m, alex)
	var pe *PluginError
	if !errors.As(err, &pe) || pe.Op != "BeforeClaim" || !errors.Is(err, errInventoryFull) {
		t.Fatalf("expected BeforeClaim veto, got %v", err)
	}
	stored, _ := env.svc.Get(ctx, m.ID)
	if stored.Claimed || m.Claimed {
		t.Error("vetoed claim must leave the mail unclaimed")
	}

	hook.full = false
	got, err := env.svc.ClaimItems(ctx, m, alex)
	if err != nil || len(got) != 1 {
		t.Errorf("expected claim after room freed, got %v (%v)", got, err)
	}
}

func TestTemplates(t *testing.T) {
	env := setupTestService(t,
		WithServerName("Craftland"),
		WithTemplates(Templates{NewMailNotice: "{SERVER}: {RECEIVER} <- {SENDER}"}),
	)
	env.send(t, steve, alex, SendRequest{})
	told := env.host.toldTo(alex.ID)
	if len(told) != 1 || told[0] != "Craftland: Alex <- Steve" {
		t.Errorf("unexpected notice %v", told)
	}
}
