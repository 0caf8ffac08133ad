package postgres

import (
	"testing"
	"time"

	"github.com/rbaliyan/playermail/store"
)

func TestBuildWhereClause(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		where, args := buildWhereClause(nil)
		if where != "1=1" || len(args) != 0 {
			t.Errorf("got %q %v", where, args)
		}
	})

	t.Run("inbox", func(t *testing.T) {
		where, args := buildWhereClause(append(store.Inbox("bob"), store.IsRead(false)))
		want := "receiver_id = $1 AND deleted_by_receiver = $2 AND is_read = $3"
		if where != want {
			t.Errorf("where = %q, want %q", where, want)
		}
		if len(args) != 3 || args[0] != "bob" || args[1] != false || args[2] != false {
			t.Errorf("unexpected args: %v", args)
		}
	})

	t.Run("range", func(t *testing.T) {
		cutoff := time.Now()
		f, err := store.MailFilter("SentAt").LessThan(cutoff)
		if err != nil {
			t.Fatal(err)
		}
		where, _ := buildWhereClause([]store.Filter{f})
		if where != "sent_at < $1" {
			t.Errorf("where = %q", where)
		}
	})
}

func TestWithTable(t *testing.T) {
	if o := newOptions(WithTable("mail_v2")); o.table != "mail_v2" {
		t.Errorf("table = %q", o.table)
	}
	if o := newOptions(WithTable("mail; DROP TABLE x")); o.table != DefaultTable {
		t.Errorf("unsafe table name accepted: %q", o.table)
	}
}

func TestRowRoundTrip(t *testing.T) {
	m := &store.Mail{ID: "m1", ReceiverID: "bob", SentAt: time.Now().UTC(), Claimed: true}
	r := toRow(m)
	if r.Commands == nil {
		t.Error("nil commands must be stored as an empty array")
	}
	got := r.toMail()
	if got.Commands != nil {
		t.Errorf("empty commands should read back as nil, got %v", got.Commands)
	}
	if !got.Claimed || got.ReceiverID != "bob" {
		t.Errorf("unexpected mail: %+v", got)
	}
}
