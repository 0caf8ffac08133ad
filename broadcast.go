package playermail

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/playermail/item"
	"github.com/rbaliyan/playermail/retry"
	"golang.org/x/sync/errgroup"
)

// BroadcastRequest describes a mail sent to every known player.
type BroadcastRequest struct {
	// SenderID is excluded from the recipients. Empty sends system mail.
	SenderID   string
	SenderName string
	// Subject defaults to the BroadcastSubject template.
	Subject  string
	Body     string
	Items    []*item.Stack
	Commands []string
	// Progress, when set, is called on the game thread as the job advances.
	Progress func(Progress)
}

// RecallRequest describes a sweep over inactive players.
type RecallRequest struct {
	// InactiveFor selects players last seen longer ago than this. Zero
	// selects every known offline player.
	InactiveFor time.Duration
	// Email also sends a real-world email to players with an address,
	// when a mailer is configured.
	Email bool
	// Progress, when set, is called on the game thread as the job advances.
	Progress func(Progress)
}

// Progress is a snapshot of a running job.
type Progress struct {
	Total     int
	Done      int
	Delivered int
	Failed    int
	Finished  bool
}

// BroadcastResult is the final outcome of a background job.
type BroadcastResult struct {
	Total        int
	Delivered    int
	Failed       int
	EmailsSent   int
	EmailsFailed int
	// Interrupted is set when Close or Cancel stopped the job early.
	// Records inserted before that stay delivered.
	Interrupted bool
}

// Job is a running background delivery.
type Job struct {
	id     string
	kind   string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result BroadcastResult
	err    error
}

// ID returns the job identifier used in logs.
func (j *Job) ID() string { return j.id }

// Kind returns "broadcast" or "recall".
func (j *Job) Kind() string { return j.kind }

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops the job. Already delivered mail is kept.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job finishes or ctx ends. The error is non-nil
// only when the job could not enumerate its recipients.
func (j *Job) Wait(ctx context.Context) (*BroadcastResult, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	res := j.result
	return &res, j.err
}

// SendToAll validates req on the calling goroutine and delivers in the
// background. The job is detached from ctx; it ends on completion,
// Job.Cancel or service Close.
func (s *service) SendToAll(ctx context.Context, req BroadcastRequest) (*Job, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	// System broadcasts skip length checks, as SendSystem does.
	if req.SenderID != "" {
		if err := s.limits.ValidateText(req.Subject, req.Body); err != nil {
			return nil, err
		}
	}
	senderName := req.SenderName
	if senderName == "" {
		senderName = s.opts.systemSenderName
	}
	subject := req.Subject
	if subject == "" {
		v := s.vars()
		v.Sender = senderName
		subject = Render(s.opts.templates.BroadcastSubject, v)
	}
	env, err := s.seal("broadcast", SendRequest{
		SenderID:   req.SenderID,
		SenderName: senderName,
		Subject:    subject,
		Body:       req.Body,
		Items:      req.Items,
		Commands:   req.Commands,
	})
	if err != nil {
		return nil, err
	}

	return s.startJob("broadcast", req.Progress, func(ctx context.Context, j *jobState) error {
		players, err := s.knownPlayers(ctx)
		if err != nil {
			return err
		}
		recipients := players[:0]
		for _, p := range players {
			if p.ID != req.SenderID {
				recipients = append(recipients, p)
			}
		}
		j.run(ctx, recipients, func(ctx context.Context, p Player) error {
			return s.deliverWithRetry(ctx, env, p)
		})
		return nil
	})
}

// Recall sends system mail to players who have not been online for a
// while, plus an email when requested and possible. Email failures are
// counted apart and never undo the in-game mail.
func (s *service) Recall(ctx context.Context, req RecallRequest) (*Job, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if req.Email && s.opts.mailer == nil {
		s.logger.Info("recall email requested but no mailer is configured")
	}
	cutoff := s.opts.clock().Add(-req.InactiveFor)

	return s.startJob("recall", req.Progress, func(ctx context.Context, j *jobState) error {
		known, err := s.opts.history.All(ctx)
		if err != nil {
			return fmt.Errorf("playermail: list players: %w", err)
		}
		var targets []Player
		for _, p := range known {
			if p.ID == "" || s.opts.presence.IsOnline(p.ID) {
				continue
			}
			if req.InactiveFor > 0 && !p.LastSeen.IsZero() && p.LastSeen.After(cutoff) {
				continue
			}
			targets = append(targets, p)
		}

		j.run(ctx, targets, func(ctx context.Context, p Player) error {
			v := s.vars()
			v.Player = p.Name
			v.Receiver = p.Name
			v.Sender = s.opts.systemSenderName
			subject := Render(s.opts.templates.RecallSubject, v)
			body := Render(s.opts.templates.RecallBody, v)

			env := envelope{
				kind:       "recall",
				senderName: s.opts.systemSenderName,
				subject:    subject,
				body:       body,
			}
			if err := s.deliverWithRetry(ctx, env, p); err != nil {
				return err
			}
			if req.Email && s.opts.mailer != nil && p.Email != "" {
				err := s.opts.mailer.SendEmail(ctx, Email{To: p.Email, Subject: subject, Body: body})
				j.countEmail(err)
				if err != nil {
					s.logger.Warn("recall email failed", "player", p.ID, "error", err)
				}
			}
			return nil
		})
		return nil
	})
}

// deliverWithRetry inserts one recipient's copy, retrying transient store errors.
func (s *service) deliverWithRetry(ctx context.Context, env envelope, p Player) error {
	return retry.Do(ctx, s.opts.deliveryRetry, func(ctx context.Context) error {
		_, err := s.deliver(ctx, env, p)
		if err != nil && !IsRetryableError(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

// knownPlayers merges history with everyone online, de-duplicated by ID.
func (s *service) knownPlayers(ctx context.Context) ([]Player, error) {
	known, err := s.opts.history.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("playermail: list players: %w", err)
	}
	seen := make(map[string]struct{}, len(known))
	out := make([]Player, 0, len(known))
	add := func(p Player) {
		if p.ID == "" {
			return
		}
		if _, ok := seen[p.ID]; ok {
			return
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	for _, p := range s.opts.presence.OnlinePlayers() {
		add(p)
	}
	for _, p := range known {
		add(p)
	}
	return out, nil
}

// jobState counts a job's progress. Counters are updated from worker goroutines.
type jobState struct {
	s        *service
	job      *Job
	progress func(Progress)

	total        int
	done         atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	emailsSent   atomic.Int64
	emailsFailed atomic.Int64
}

func (j *jobState) countEmail(err error) {
	if err != nil {
		j.emailsFailed.Add(1)
	} else {
		j.emailsSent.Add(1)
	}
}

func (j *jobState) snapshot(finished bool) Progress {
	return Progress{
		Total:     j.total,
		Done:      int(j.done.Load()),
		Delivered: int(j.delivered.Load()),
		Failed:    int(j.failed.Load()),
		Finished:  finished,
	}
}

func (j *jobState) report(finished bool) {
	if j.progress == nil {
		return
	}
	p := j.snapshot(finished)
	j.s.onGameThread("progress", func() { j.progress(p) })
}

// run calls deliver for every recipient with bounded parallelism.
// Per-recipient failures are counted and logged, never returned.
func (j *jobState) run(ctx context.Context, recipients []Player, deliver func(context.Context, Player) error) {
	j.total = len(recipients)
	interval := int64(j.s.opts.progressInterval)

	var g errgroup.Group
	g.SetLimit(j.s.opts.broadcastWorkers)
	for _, p := range recipients {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := deliver(ctx, p); err != nil {
				j.failed.Add(1)
				j.s.logger.Warn("job delivery failed",
					"job", j.job.id, "receiver", p.ID, "error", err)
			} else {
				j.delivered.Add(1)
			}
			if n := j.done.Add(1); n%interval == 0 {
				j.report(false)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// startJob launches fn in the background under the service job runner.
func (s *service) startJob(kind string, progress func(Progress), fn func(context.Context, *jobState) error) (*Job, error) {
	job := &Job{
		id:   uuid.NewString(),
		kind: kind,
		done: make(chan struct{}),
	}
	state := &jobState{s: s, job: job, progress: progress}

	cancel, started := s.jobs.start(func(ctx context.Context) {
		defer close(job.done)

		start := time.Now()
		s.logger.Info("job started", "job", job.id, "kind", kind)
		err := fn(ctx, state)

		res := BroadcastResult{
			Total:        state.total,
			Delivered:    int(state.delivered.Load()),
			Failed:       int(state.failed.Load()),
			EmailsSent:   int(state.emailsSent.Load()),
			EmailsFailed: int(state.emailsFailed.Load()),
			Interrupted:  ctx.Err() != nil && int(state.delivered.Load()) < state.total,
		}
		job.mu.Lock()
		job.result = res
		job.err = err
		job.mu.Unlock()

		state.report(true)
		s.otel.recordBroadcast(context.Background(), kind, res.Delivered, res.Failed)
		s.logger.Info("job finished",
			"job", job.id, "kind", kind,
			"total", res.Total, "delivered", res.Delivered, "failed", res.Failed,
			"interrupted", res.Interrupted, "duration", time.Since(start), "error", err)
	})
	if !started {
		return nil, ErrNotConnected
	}
	job.cancel = cancel
	return job, nil
}
