package playermail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/rbaliyan/playermail/store"
)

// Plugin extends the mail service. Plugins are initialized on Connect
// and closed in reverse order on Close.
//
// For observing reads, claims and deletes, subscribe to Service.Events().
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// SendHook is called around every delivery, including system mail and
// each broadcast recipient.
type SendHook interface {
	Plugin
	// BeforeSend sees the fully built record before it is stored.
	// Return an error to abort (profanity filter, mute list, quotas).
	BeforeSend(ctx context.Context, m *store.Mail) error
	// AfterSend is called once the record is stored. The mail is already
	// delivered; an error is logged and does not fail the send.
	AfterSend(ctx context.Context, m *store.Mail) error
}

// ClaimHook can veto an item claim, e.g. when the receiver's inventory
// has no room. A veto leaves the mail unclaimed so the player can retry.
type ClaimHook interface {
	Plugin
	BeforeClaim(ctx context.Context, m *store.Mail, claimant Player) error
}

// pluginRegistry keeps plugins in registration order, with the hook
// subsets split out so deliveries do not type-switch per call.
type pluginRegistry struct {
	all    []Plugin
	send   []SendHook
	claim  []ClaimHook
	logger *slog.Logger
}

func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)
	if h, ok := p.(SendHook); ok {
		r.send = append(r.send, h)
	}
	if h, ok := p.(ClaimHook); ok {
		r.claim = append(r.claim, h)
	}
}

// initAll initializes plugins in order. When one fails, the ones before
// it are closed again, newest first, and the service stays disconnected.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		err := p.Init(ctx)
		if err == nil {
			continue
		}
		for _, done := range slices.Backward(r.all[:i]) {
			if cerr := done.Close(ctx); cerr != nil {
				r.logger.Error("plugin rollback failed", "plugin", done.Name(), "error", cerr)
			}
		}
		return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
	}
	return nil
}

func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for _, p := range slices.Backward(r.all) {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: p.Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError wraps a plugin failure with the plugin name and the hook
// or lifecycle step that failed.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("playermail: plugin %s %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

func (r *pluginRegistry) beforeSend(ctx context.Context, m *store.Mail) error {
	for _, h := range r.send {
		if err := h.BeforeSend(ctx, m); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeSend", Err: err}
		}
	}
	return nil
}

// afterSend runs every hook; failures are only logged because the mail
// is already stored.
func (r *pluginRegistry) afterSend(ctx context.Context, m *store.Mail) {
	for _, h := range r.send {
		if err := h.AfterSend(ctx, m); err != nil {
			r.logger.Warn("after-send hook failed",
				"plugin", h.Name(), "mail_id", m.ID, "error", err)
		}
	}
}

func (r *pluginRegistry) beforeClaim(ctx context.Context, m *store.Mail, claimant Player) error {
	for _, h := range r.claim {
		if err := h.BeforeClaim(ctx, m, claimant); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeClaim", Err: err}
		}
	}
	return nil
}
