package playermail

import (
	"context"
	"time"

	"github.com/rbaliyan/playermail/item"
)

// Player identifies a player known to the server.
type Player struct {
	// ID is the stable identity (the player's UUID on the host).
	ID string
	// Name is the current display name.
	Name string
	// Email is an optional real-world address used by recall emails.
	Email string
	// LastSeen is when the player last connected. Zero means unknown.
	LastSeen time.Time
}

// Presence answers questions about currently connected players.
// It is provided by the host game server.
type Presence interface {
	// Online returns the connected player with exactly this name.
	Online(name string) (Player, bool)
	// IsOnline reports whether the identity is currently connected.
	IsOnline(playerID string) bool
	// Tell sends a chat message to a connected player.
	Tell(playerID, message string) error
	// OnlinePlayers lists everyone currently connected.
	OnlinePlayers() []Player
}

// History resolves players that have connected at least once.
type History interface {
	// Lookup returns the player who last connected under name.
	// Returns an error matching ErrPlayerNotFound if nobody did.
	Lookup(ctx context.Context, name string) (Player, error)
	// All lists every known player.
	All(ctx context.Context) ([]Player, error)
}

// HistoryRecorder is implemented by histories that learn from joins.
type HistoryRecorder interface {
	Remember(ctx context.Context, p Player) error
}

// Dispatcher runs server commands.
type Dispatcher interface {
	RunAsPlayer(playerID, command string) error
	RunAsConsole(command string) error
}

// Inventory hands claimed items to a player. Overflow handling (dropping
// excess at the player's feet) is the host's concern.
type Inventory interface {
	Give(playerID string, stacks []item.Stack) error
}

// GameThread schedules work on the host's main thread. Anything that
// touches live player state goes through it.
type GameThread interface {
	Submit(fn func())
}

// Email is an outbound real-world email.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends real-world email. It is an optional capability: when no
// mailer is configured, recall only delivers in-game mail.
type Mailer interface {
	SendEmail(ctx context.Context, e Email) error
}

// inlineThread runs submitted work immediately on the calling goroutine.
type inlineThread struct{}

func (inlineThread) Submit(fn func()) { fn() }

// GameThreadFunc adapts a function to the GameThread interface.
type GameThreadFunc func(fn func())

// Submit calls f(fn).
func (f GameThreadFunc) Submit(fn func()) { f(fn) }

// noPresence is used when the host provides no presence information.
type noPresence struct{}

func (noPresence) Online(string) (Player, bool) { return Player{}, false }
func (noPresence) IsOnline(string) bool         { return false }
func (noPresence) Tell(string, string) error    { return nil }
func (noPresence) OnlinePlayers() []Player      { return nil }

// noHistory is used when no history is configured.
type noHistory struct{}

func (noHistory) Lookup(context.Context, string) (Player, error) { return Player{}, ErrPlayerNotFound }
func (noHistory) All(context.Context) ([]Player, error)          { return nil, nil }
