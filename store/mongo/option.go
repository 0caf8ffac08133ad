package mongo

import (
	"log/slog"
	"time"
)

// Where mail documents live unless overridden.
const (
	DefaultDatabase   = "playermail"
	DefaultCollection = "mail"
	DefaultTimeout    = 10 * time.Second
)

// options is the resolved store configuration; see newOptions.
type options struct {
	database    string
	collection  string
	timeout     time.Duration
	logger      *slog.Logger
	skipIndexes bool
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:   DefaultDatabase,
		collection: DefaultCollection,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option customizes where and how New stores mail documents.
type Option func(*options)

// WithDatabase picks the database holding the mail collection.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollection names the collection, one document per mail record.
func WithCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithTimeout caps each store call, e.g. a single inbox query or flag update.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger routes index and connection messages to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSkipIndexes leaves the receiver and sender indexes alone on Connect.
func WithSkipIndexes(skip bool) Option {
	return func(o *options) {
		o.skipIndexes = skip
	}
}
