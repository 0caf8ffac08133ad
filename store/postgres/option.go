package postgres

import (
	"log/slog"
	"regexp"
	"time"
)

// Where mail rows live unless overridden.
const (
	DefaultTable   = "player_mail"
	DefaultTimeout = 10 * time.Second
)

// options is the resolved store configuration; see newOptions.
type options struct {
	table   string
	timeout time.Duration
	logger  *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		table:   DefaultTable,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option customizes where and how New stores mail rows.
type Option func(*options)

// tableName matches identifiers that are safe to interpolate into SQL.
var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// WithTable names the mail table, e.g. to run several servers in one
// database. Anything but a plain SQL identifier is ignored.
func WithTable(name string) Option {
	return func(o *options) {
		if tableName.MatchString(name) {
			o.table = name
		}
	}
}

// WithTimeout caps each query, e.g. one inbox listing or flag update.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger routes schema and query messages to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
