// Package maintenance runs periodic housekeeping against a playermail
// service. Today that is the reconciliation sweep that removes records
// both sides deleted but whose hard delete failed.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbaliyan/playermail"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// ErrRunning is returned by Start when the sweeper is already scheduled.
var ErrRunning = errors.New("maintenance: already running")

// Reconciler is the part of playermail.Service the sweeper drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (*playermail.ReconcileResult, error)
}

// Sweeper schedules Reconcile on a cron expression. Runs never overlap;
// a tick that fires while the previous sweep is still going is skipped.
type Sweeper struct {
	target   Reconciler
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running sync.Mutex
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSchedule sets the cron expression. Standard five-field expressions
// and descriptors such as "@every 15m" are accepted.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a sweeper for target. Call Start to schedule it.
func New(target Reconciler, opts ...Option) *Sweeper {
	s := &Sweeper{
		target:   target,
		schedule: DefaultSchedule,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep. ctx bounds every run; cancelling it stops
// in-flight sweeps but not the schedule, which Stop ends.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrRunning
	}

	c := cron.New()
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(s.schedule, func() { s.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("maintenance: schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron, s.cancel = c, cancel
	s.logger.Info("reconciliation scheduled", "schedule", s.schedule)
	return nil
}

// Stop ends the schedule, cancels a running sweep and waits for it.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("reconciliation skipped: previous sweep still running")
		return
	}
	defer s.running.Unlock()
	if _, err := s.run(ctx); err != nil {
		s.logger.Error("reconciliation failed", "error", err)
	}
}

// RunOnce performs one sweep immediately, outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (*playermail.ReconcileResult, error) {
	s.running.Lock()
	defer s.running.Unlock()
	return s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) (*playermail.ReconcileResult, error) {
	res, err := s.target.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	if res.Deleted > 0 || res.Failed > 0 {
		s.logger.Info("reconciliation finished",
			"deleted", res.Deleted,
			"failed", res.Failed,
			"interrupted", res.Interrupted)
	}
	return res, nil
}
