package playermail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/playermail/store"
)

// blockingHook holds every delivery until its context ends.
type blockingHook struct {
	once    sync.Once
	entered chan struct{}
}

func newBlockingHook() *blockingHook {
	return &blockingHook{entered: make(chan struct{})}
}

func (h *blockingHook) Name() string { return "blocking" }
func (h *blockingHook) Init(context.Context) error { return nil }
func (h *blockingHook) Close(context.Context) error { return nil }

func (h *blockingHook) BeforeSend(ctx context.Context, _ *store.Mail) error {
	h.once.Do(func() { close(h.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func (h *blockingHook) AfterSend(context.Context, *store.Mail) error { return nil }

// progressLog collects progress callbacks.
type progressLog struct {
	mu   sync.Mutex
	seen []Progress
}

func (l *progressLog) record(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, p)
}

func (l *progressLog) last() (Progress, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seen) == 0 {
		return Progress{}, 0
	}
	return l.seen[len(l.seen)-1], len(l.seen)
}

func waitJob(t *testing.T, job *Job) *BroadcastResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("wait %s: %v", job.Kind(), err)
	}
	return res
}

func TestSendToAll(t *testing.T) {
	ctx := context.Background()

	t.Run("excludes sender", func(t *testing.T) {
		env := setupTestService(t)
		job, err := env.svc.SendToAll(ctx, BroadcastRequest{
			SenderID:   steve.ID,
			SenderName: "Steve",
			Body:       "event tonight",
			Items:      stacks("FIREWORK"),
		})
		if err != nil {
			t.Fatalf("send to all: %v", err)
		}
		if job.ID() == "" || job.Kind() != "broadcast" {
			t.Errorf("unexpected job %s/%s", job.ID(), job.Kind())
		}

		res := waitJob(t, job)
		if res.Total != 2 || res.Delivered != 2 || res.Failed != 0 || res.Interrupted {
			t.Errorf("unexpected result %+v", res)
		}

		if inbox, _ := env.svc.Inbox(ctx, steve.ID); len(inbox) != 0 {
			t.Error("sender received their own broadcast")
		}
		alexMail, _ := env.svc.Inbox(ctx, alex.ID)
		heroMail, _ := env.svc.Inbox(ctx, herob.ID)
		if len(alexMail) != 1 || len(heroMail) != 1 {
			t.Fatalf("expected one copy each, got %d and %d", len(alexMail), len(heroMail))
		}
		if alexMail[0].Subject != "Announcement from Steve" {
			t.Errorf("unexpected default subject %q", alexMail[0].Subject)
		}

		if _, err := env.svc.ClaimItems(ctx, alexMail[0], alex); err != nil {
			t.Fatal(err)
		}
		hero, _ := env.svc.Get(ctx, heroMail[0].ID)
		if hero.Claimed {
			t.Error("broadcast copies share claim state")
		}
	})

	t.Run("system broadcast reports progress", func(t *testing.T) {
		env := setupTestService(t, WithProgressInterval(1))
		log := &progressLog{}
		job, err := env.svc.SendToAll(ctx, BroadcastRequest{Subject: "Maintenance", Progress: log.record})
		if err != nil {
			t.Fatal(err)
		}
		res := waitJob(t, job)
		if res.Delivered != 3 {
			t.Errorf("expected 3 deliveries, got %+v", res)
		}

		last, n := log.last()
		if !last.Finished || last.Done != 3 || last.Delivered != 3 || last.Total != 3 {
			t.Errorf("unexpected final progress %+v", last)
		}
		if n != 4 {
			t.Errorf("expected 3 intermediate reports and 1 final, got %d", n)
		}

		inbox, _ := env.svc.Inbox(ctx, steve.ID)
		if len(inbox) != 1 || !inbox[0].IsSystem() || inbox[0].SenderName != DefaultSystemSenderName {
			t.Errorf("expected system mail, got %+v", inbox)
		}
	})

	t.Run("validates before starting", func(t *testing.T) {
		env := setupTestService(t)
		_, err := env.svc.SendToAll(ctx, BroadcastRequest{
			SenderID:   steve.ID,
			SenderName: "Steve",
			Subject:    strings.Repeat("x", 51),
		})
		if !errors.Is(err, ErrSubjectTooLong) {
			t.Errorf("expected ErrSubjectTooLong, got %v", err)
		}
		many := make([]string, DefaultMaxItems+1)
		for i := range many {
			many[i] = "DIRT"
		}
		_, err = env.svc.SendToAll(ctx, BroadcastRequest{Items: stacks(many...)})
		if !errors.Is(err, ErrTooManyItems) {
			t.Errorf("expected ErrTooManyItems, got %v", err)
		}
		if env.store.Len() != 0 {
			t.Error("nothing should be delivered")
		}
	})

	t.Run("system broadcast skips length checks", func(t *testing.T) {
		env := setupTestService(t)
		long := strings.Repeat("x", DefaultMaxSubjectLength+10)
		job, err := env.svc.SendToAll(ctx, BroadcastRequest{
			Subject: long,
			Body:    strings.Repeat("y", DefaultMaxContentLength+10),
		})
		if err != nil {
			t.Fatalf("system broadcast rejected: %v", err)
		}
		if res := waitJob(t, job); res.Delivered != 3 {
			t.Errorf("expected 3 deliveries, got %+v", res)
		}
		inbox, _ := env.svc.Inbox(ctx, alex.ID)
		if len(inbox) != 1 || inbox[0].Subject != long {
			t.Errorf("expected untruncated subject, got %+v", inbox)
		}
	})

	t.Run("detached from caller context", func(t *testing.T) {
		env := setupTestService(t)
		callCtx, cancel := context.WithCancel(ctx)
		job, err := env.svc.SendToAll(callCtx, BroadcastRequest{Subject: "hello"})
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		if res := waitJob(t, job); res.Delivered != 3 {
			t.Errorf("expected 3 deliveries, got %+v", res)
		}
	})
}

func TestJobCancel(t *testing.T) {
	ctx := context.Background()
	hook := newBlockingHook()
	env := setupTestService(t, WithPlugin(hook), WithBroadcastWorkers(1))

	job, err := env.svc.SendToAll(ctx, BroadcastRequest{Subject: "stuck"})
	if err != nil {
		t.Fatal(err)
	}
	<-hook.entered
	job.Cancel()

	res := waitJob(t, job)
	if !res.Interrupted || res.Delivered != 0 {
		t.Errorf("expected interrupted job with no deliveries, got %+v", res)
	}
	if env.store.Len() != 0 {
		t.Errorf("expected nothing stored, got %d", env.store.Len())
	}
}

func TestCloseInterruptsJobs(t *testing.T) {
	ctx := context.Background()
	hook := newBlockingHook()
	env := setupTestService(t, WithPlugin(hook), WithBroadcastWorkers(1))

	job, err := env.svc.SendToAll(ctx, BroadcastRequest{Subject: "stuck"})
	if err != nil {
		t.Fatal(err)
	}
	<-hook.entered

	if err := env.svc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-job.Done():
	default:
		t.Fatal("close returned before the job finished")
	}
	if res := waitJob(t, job); !res.Interrupted {
		t.Errorf("expected interrupted, got %+v", res)
	}

	if _, err := env.svc.SendToAll(ctx, BroadcastRequest{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	now := newTestClock().Now()

	seeded := func() *fakeHost {
		host := newSeededHost()
		host.seen(Player{ID: "uuid-old", Name: "Oldie", Email: "old@example.com", LastSeen: now.Add(-60 * 24 * time.Hour)})
		host.seen(Player{ID: "uuid-new", Name: "Newbie", Email: "new@example.com", LastSeen: now.Add(-24 * time.Hour)})
		return host
	}
	req := RecallRequest{InactiveFor: 30 * 24 * time.Hour, Email: true}

	t.Run("mails inactive offline players", func(t *testing.T) {
		env := setupWithHost(t, seeded())
		job, err := env.svc.Recall(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if job.Kind() != "recall" {
			t.Errorf("unexpected kind %q", job.Kind())
		}
		res := waitJob(t, job)
		// Oldie, plus Herobrine whose last visit is unknown.
		if res.Delivered != 2 || res.EmailsSent != 0 {
			t.Errorf("unexpected result %+v", res)
		}

		inbox, _ := env.svc.Inbox(ctx, "uuid-old")
		if len(inbox) != 1 {
			t.Fatalf("expected recall mail, got %d", len(inbox))
		}
		if inbox[0].Subject != "We miss you on Server" || !inbox[0].IsSystem() {
			t.Errorf("unexpected recall mail %+v", inbox[0])
		}
		if !strings.Contains(inbox[0].Body, "Hi Oldie") {
			t.Errorf("unexpected body %q", inbox[0].Body)
		}
		if recent, _ := env.svc.Inbox(ctx, "uuid-new"); len(recent) != 0 {
			t.Error("recently active player was recalled")
		}
		if online, _ := env.svc.Inbox(ctx, alex.ID); len(online) != 0 {
			t.Error("online player was recalled")
		}
	})

	t.Run("emails players with an address", func(t *testing.T) {
		host := seeded()
		env := setupWithHost(t, host, WithMailer(host))
		res := waitJob(t, mustRecall(t, env.svc, req))
		if res.Delivered != 2 || res.EmailsSent != 1 || res.EmailsFailed != 0 {
			t.Errorf("unexpected result %+v", res)
		}
		if len(host.emails) != 1 || host.emails[0].To != "old@example.com" {
			t.Errorf("unexpected emails %+v", host.emails)
		}
	})

	t.Run("email failure keeps the mail", func(t *testing.T) {
		host := seeded()
		host.failEmail = true
		env := setupWithHost(t, host, WithMailer(host))
		res := waitJob(t, mustRecall(t, env.svc, req))
		if res.Delivered != 2 || res.EmailsFailed != 1 {
			t.Errorf("unexpected result %+v", res)
		}
		if inbox, _ := env.svc.Inbox(ctx, "uuid-old"); len(inbox) != 1 {
			t.Error("recall mail missing after email failure")
		}
	})

	t.Run("zero window selects every offline player", func(t *testing.T) {
		env := setupWithHost(t, seeded())
		res := waitJob(t, mustRecall(t, env.svc, RecallRequest{}))
		if res.Delivered != 3 {
			t.Errorf("expected 3 deliveries, got %+v", res)
		}
	})
}

func mustRecall(t *testing.T, svc Service, req RecallRequest) *Job {
	t.Helper()
	job, err := svc.Recall(context.Background(), req)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	return job
}
