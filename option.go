package playermail

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/playermail/archive"
	"github.com/rbaliyan/playermail/retry"
	"github.com/rbaliyan/playermail/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultMaxSubjectLength = 50
	DefaultMaxContentLength = 500
	DefaultMaxItems         = 27 // one chest row set

	DefaultCooldown         = 30 * time.Second
	DefaultCooldownCapacity = 10000 // tracked senders before LRU eviction

	DefaultServerName       = "Server"
	DefaultSystemSenderName = "Server"

	DefaultPlayerPlaceholder = "%player%"
	DefaultConsolePrefix     = "console:"

	DefaultMaxConcurrentSends = 10 // max concurrent send operations per service
	DefaultBroadcastWorkers   = 4  // parallel inserts per broadcast job
	DefaultProgressInterval   = 50 // recipients between progress reports

	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second
)

// Templates holds the user-facing message templates the service renders.
// Placeholders: {SERVER}, {SENDER}, {PLAYER}, {COUNT}, {RECEIVER}.
type Templates struct {
	// NewMailNotice is told to an online receiver when mail arrives.
	NewMailNotice string
	// UnreadNotice is told to a joining player with unread mail.
	UnreadNotice string
	// BroadcastSubject is used when a broadcast has no subject.
	BroadcastSubject string
	// RecallSubject and RecallBody build recall mail and email.
	RecallSubject string
	RecallBody    string
}

// DefaultTemplates returns the built-in English templates.
func DefaultTemplates() Templates {
	return Templates{
		NewMailNotice:    "[{SERVER}] You have new mail from {SENDER}.",
		UnreadNotice:     "[{SERVER}] {PLAYER}, you have {COUNT} unread mail(s).",
		BroadcastSubject: "Announcement from {SENDER}",
		RecallSubject:    "We miss you on {SERVER}",
		RecallBody:       "Hi {PLAYER}, it has been a while. Come back to {SERVER}!",
	}
}

// merge overrides the receiver's fields with the non-empty fields of t.
func (d Templates) merge(t Templates) Templates {
	if t.NewMailNotice != "" {
		d.NewMailNotice = t.NewMailNotice
	}
	if t.UnreadNotice != "" {
		d.UnreadNotice = t.UnreadNotice
	}
	if t.BroadcastSubject != "" {
		d.BroadcastSubject = t.BroadcastSubject
	}
	if t.RecallSubject != "" {
		d.RecallSubject = t.RecallSubject
	}
	if t.RecallBody != "" {
		d.RecallBody = t.RecallBody
	}
	return d
}

// options holds service configuration.
type options struct {
	store  store.Store
	logger *slog.Logger

	plugins []Plugin

	// Host collaborators
	presence   Presence
	history    History
	dispatcher Dispatcher
	inventory  Inventory
	gameThread GameThread
	mailer     Mailer
	archive    archive.Sink

	// Mail limits
	maxSubjectLength int
	maxContentLength int
	maxItems         int

	// Cooldown
	cooldown         time.Duration
	cooldownCapacity int

	// Rendering
	serverName        string
	systemSenderName  string
	templates         Templates
	playerPlaceholder string
	consolePrefix     string

	// Concurrency
	maxConcurrentSends int
	broadcastWorkers   int
	progressInterval   int
	deliveryRetry      retry.Config

	// Shutdown
	shutdownTimeout time.Duration

	clock func() time.Time

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// defaultDeliveryRetry is a short policy: broadcasts must not stall on one recipient.
func defaultDeliveryRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InitialBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = time.Second
	return cfg
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:             slog.Default(),
		presence:           noPresence{},
		history:            noHistory{},
		gameThread:         inlineThread{},
		maxSubjectLength:   DefaultMaxSubjectLength,
		maxContentLength:   DefaultMaxContentLength,
		maxItems:           DefaultMaxItems,
		cooldown:           DefaultCooldown,
		cooldownCapacity:   DefaultCooldownCapacity,
		serverName:         DefaultServerName,
		systemSenderName:   DefaultSystemSenderName,
		templates:          DefaultTemplates(),
		playerPlaceholder:  DefaultPlayerPlaceholder,
		consolePrefix:      DefaultConsolePrefix,
		maxConcurrentSends: DefaultMaxConcurrentSends,
		broadcastWorkers:   DefaultBroadcastWorkers,
		progressInterval:   DefaultProgressInterval,
		deliveryRetry:      defaultDeliveryRetry(),
		shutdownTimeout:    DefaultShutdownTimeout,
		clock:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures the mail service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPlugin registers a plugin with the service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Host Collaborators ---

// WithPresence sets the online-player lookup provided by the host.
func WithPresence(p Presence) Option {
	return func(o *options) {
		if p != nil {
			o.presence = p
		}
	}
}

// WithHistory sets the lookup for players who connected before.
func WithHistory(h History) Option {
	return func(o *options) {
		if h != nil {
			o.history = h
		}
	}
}

// WithDirectory sets presence and history from a single value.
func WithDirectory[D interface {
	Presence
	History
}](d D) Option {
	return func(o *options) {
		WithPresence(d)(o)
		WithHistory(d)(o)
	}
}

// WithDispatcher sets the command dispatcher used by ExecuteCommands.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithInventory sets where claimed items are delivered. Without one,
// ClaimItems only returns the stacks to the caller.
func WithInventory(inv Inventory) Option {
	return func(o *options) {
		if inv != nil {
			o.inventory = inv
		}
	}
}

// WithGameThread sets the scheduler for work that touches live player
// state. Default runs the work inline.
func WithGameThread(g GameThread) Option {
	return func(o *options) {
		if g != nil {
			o.gameThread = g
		}
	}
}

// WithMailer enables real-world email for recall.
func WithMailer(m Mailer) Option {
	return func(o *options) {
		if m != nil {
			o.mailer = m
		}
	}
}

// WithArchive sets a sink that receives every record before it is hard-deleted.
func WithArchive(s archive.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.archive = s
		}
	}
}

// --- Limits ---

// WithMaxSubjectLength sets the maximum subject length in characters.
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// WithMaxContentLength sets the maximum body length in characters.
func WithMaxContentLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxContentLength = n
		}
	}
}

// WithMaxItems sets the maximum number of non-empty stacks per mail.
func WithMaxItems(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxItems = n
		}
	}
}

// WithCooldown sets the minimum interval between sends by the same player.
// Zero disables the cooldown.
func WithCooldown(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.cooldown = d
		}
	}
}

// WithCooldownCapacity bounds how many senders the cooldown cache tracks.
// The bound fails open: once more senders than n are cooling down at the
// same time, the least recently stamped ones are forgotten and may send
// again before their window ends. Size it above the peak number of
// players sending within one cooldown window.
func WithCooldownCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cooldownCapacity = n
		}
	}
}

// --- Rendering ---

// WithServerName sets the value of the {SERVER} placeholder.
func WithServerName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serverName = name
		}
	}
}

// WithSystemSenderName sets the display name of system mail.
func WithSystemSenderName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.systemSenderName = name
		}
	}
}

// WithTemplates overrides the non-empty templates in t.
func WithTemplates(t Templates) Option {
	return func(o *options) {
		o.templates = o.templates.merge(t)
	}
}

// WithCommandSyntax sets the player-name placeholder and the console
// execution prefix recognized in mail commands.
func WithCommandSyntax(playerPlaceholder, consolePrefix string) Option {
	return func(o *options) {
		if playerPlaceholder != "" {
			o.playerPlaceholder = playerPlaceholder
		}
		if consolePrefix != "" {
			o.consolePrefix = consolePrefix
		}
	}
}

// --- Concurrency ---

// WithMaxConcurrentSends limits concurrent send operations.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithBroadcastWorkers sets how many inserts a broadcast job runs in parallel.
func WithBroadcastWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.broadcastWorkers = n
		}
	}
}

// WithProgressInterval sets how many recipients pass between progress reports.
func WithProgressInterval(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.progressInterval = n
		}
	}
}

// WithDeliveryRetry sets the retry policy for per-recipient broadcast inserts.
func WithDeliveryRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.deliveryRetry = cfg
	}
}

// WithShutdownTimeout sets how long Close waits for in-flight work.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// --- OpenTelemetry ---

// WithTracing enables OpenTelemetry tracing.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables OpenTelemetry metrics.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and event bus names.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Events ---

// WithEventTransport sets a custom event transport.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes events over Redis streams.
// Ignored when WithEventTransport is also set.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) {
		if c != nil {
			o.redisClient = c
		}
	}
}

// WithEventPublishFailure sets a callback for event publish failures.
// Publishing is best-effort: failures never fail the mail operation.
func WithEventPublishFailure(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
