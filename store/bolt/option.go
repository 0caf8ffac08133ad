package bolt

import (
	"log/slog"
	"os"
	"time"
)

// Default configuration values.
const (
	DefaultBucket   = "mail"
	DefaultTimeout  = 5 * time.Second
	DefaultFileMode = os.FileMode(0600)
)

// options holds bbolt store configuration.
type options struct {
	bucket   string
	timeout  time.Duration
	fileMode os.FileMode
	logger   *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		bucket:   DefaultBucket,
		timeout:  DefaultTimeout,
		fileMode: DefaultFileMode,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a bbolt store.
type Option func(*options)

// WithBucket sets the bucket name records are kept in.
func WithBucket(name string) Option {
	return func(o *options) {
		if name != "" {
			o.bucket = name
		}
	}
}

// WithTimeout sets how long Connect waits for the file lock.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithFileMode sets the permissions used when creating the database file.
func WithFileMode(mode os.FileMode) Option {
	return func(o *options) {
		if mode != 0 {
			o.fileMode = mode
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
