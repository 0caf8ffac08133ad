package playermail

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/playermail/item"
	"github.com/rbaliyan/playermail/store"
	"golang.org/x/sync/semaphore"
)

// Type aliases for commonly used store types.
type (
	Mail        = store.Mail
	ListOptions = store.ListOptions
)

// Service is the in-game mail system.
//
// Callers hand it validated primitives (player identities, text, item
// stacks); the service owns addressing, policy checks and the lifecycle
// of every mail record.
type Service interface {
	// Connect connects the store, event bus and plugins.
	Connect(ctx context.Context) error
	// Close waits for in-flight sends and background jobs, then releases resources.
	Close(ctx context.Context) error
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
	// Events returns per-service event instances. Nil before Connect.
	Events() *ServiceEvents
	// CanEmail reports whether a real-world mailer is configured.
	CanEmail() bool

	// Send delivers a player's mail to the player named req.ReceiverName.
	Send(ctx context.Context, req SendRequest) (*store.Mail, error)
	// SendSystem delivers server mail. No cooldown, no length limits.
	SendSystem(ctx context.Context, req SendRequest) (*store.Mail, error)
	// SendBatch delivers one independent copy of req to each named receiver.
	SendBatch(ctx context.Context, req SendRequest, receiverNames []string) (*BatchResult, error)
	// SendToAll delivers a copy to every known player in the background.
	SendToAll(ctx context.Context, req BroadcastRequest) (*Job, error)
	// Recall mails (and optionally emails) inactive players in the background.
	Recall(ctx context.Context, req RecallRequest) (*Job, error)

	// Inbox returns the receiver's visible mail, newest first.
	Inbox(ctx context.Context, receiverID string) ([]*store.Mail, error)
	// Sent returns the sender's visible mail, newest first.
	Sent(ctx context.Context, senderID string) ([]*store.Mail, error)
	// UnreadCount counts unread inbox mail.
	UnreadCount(ctx context.Context, receiverID string) (int64, error)
	// Get returns a single record by ID.
	Get(ctx context.Context, id string) (*store.Mail, error)

	// Open is the single entry point for a player viewing a mail.
	Open(ctx context.Context, m *store.Mail, viewer Player) (*OpenResult, error)
	// MarkAsRead sets the read flag.
	MarkAsRead(ctx context.Context, m *store.Mail) error
	// ExecuteCommands runs the attached commands at most once.
	ExecuteCommands(ctx context.Context, actor Player, m *store.Mail) error
	// ClaimItems hands the attached items to the receiver at most once.
	ClaimItems(ctx context.Context, m *store.Mail, claimant Player) ([]item.Stack, error)
	// Delete removes the mail from the actor's side.
	Delete(ctx context.Context, m *store.Mail, actorID string) error
	// DeleteAllByReceiver deletes every inbox mail except unclaimed ones.
	DeleteAllByReceiver(ctx context.Context, receiverID string) (int, error)
	// DeleteReadByReceiver deletes read inbox mail except unclaimed ones.
	DeleteReadByReceiver(ctx context.Context, receiverID string) (int, error)

	// PlayerJoined records the player and tells them about unread mail.
	PlayerJoined(ctx context.Context, p Player) (int64, error)
	// NotifyUnread tells an online player how much unread mail they have.
	NotifyUnread(ctx context.Context, p Player) (int64, error)
	// Reconcile hard-deletes records both sides already deleted.
	Reconcile(ctx context.Context) (*ReconcileResult, error)
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// recordLocks is the number of stripes guarding claim and command execution.
const recordLocks = 64

type service struct {
	store    store.Store
	logger   *slog.Logger
	opts     *options
	limits   Limits
	state    int32
	plugins  *pluginRegistry
	otel     *otelInstrumentation
	sendSem  *semaphore.Weighted
	cooldown *cooldowns
	jobs     *jobRunner
	locks    [recordLocks]sync.Mutex
	eventBus *event.Bus
	events   *ServiceEvents
}

// NewService creates a mail service. Call Connect before use.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	if o.mailer != nil {
		o.logger.Info("email capability detected")
	}

	return &service{
		store:    o.store,
		logger:   o.logger,
		opts:     o,
		limits:   o.limits(),
		plugins:  plugins,
		otel:     otelInstr,
		sendSem:  semaphore.NewWeighted(int64(o.maxConcurrentSends)),
		cooldown: newCooldowns(o.cooldown, o.cooldownCapacity, o.clock),
		jobs:     &jobRunner{},
	}, nil
}

func (s *service) Events() *ServiceEvents {
	return s.events
}

func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

func (s *service) CanEmail() bool {
	return s.opts.mailer != nil
}

func (s *service) checkConnected() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	s.jobs.open()
	success = true
	s.logger.Info("mail service connected", "server", s.opts.serverName)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "playermail"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// Close stops accepting work, waits for in-flight sends and cancels
// background jobs (records they already inserted stay), then closes
// plugins, the event bus and the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight sends, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
	}

	if err := s.jobs.shutdown(shutdownCtx); err != nil {
		s.logger.Warn("timeout waiting for background jobs", "error", err)
		errs = append(errs, fmt.Errorf("background jobs: %w", err))
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	// The noop bus holds no resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.cooldown.reset()
	return errors.Join(errs...)
}

// now returns the current time as stored: UTC, millisecond precision.
func (s *service) now() time.Time {
	return s.opts.clock().UTC().Truncate(time.Millisecond)
}

// lockRecord serializes claim and command execution for one mail ID.
func (s *service) lockRecord(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%recordLocks]
	mu.Lock()
	return mu.Unlock
}

// mapStoreErr converts store sentinels to service sentinels.
func mapStoreErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	}
	return fmt.Errorf("playermail: %s: %w", op, err)
}

// onGameThread submits fn to the host scheduler, containing panics.
func (s *service) onGameThread(what string, fn func()) {
	s.opts.gameThread.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic on game thread", "task", what, "panic", r)
			}
		}()
		fn()
	})
}

// jobRunner tracks background jobs so Close can cancel and await them.
type jobRunner struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *jobRunner) open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx, r.cancel = context.WithCancel(context.Background())
}

// start runs fn on a new goroutine with a child of the runner's context
// and returns that child's cancel func. It fails once the runner is shut down.
func (r *jobRunner) start(fn func(ctx context.Context)) (context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil || r.ctx.Err() != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		fn(ctx)
	}()
	return cancel, true
}

func (r *jobRunner) shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
