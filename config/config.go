// Package config reads playermail settings from the environment and turns
// them into service options and backend connections.
//
// Every variable carries the PLAYERMAIL_ prefix, e.g. PLAYERMAIL_COOLDOWN=45s
// or PLAYERMAIL_STORE_DRIVER=postgres.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/playermail"
	"github.com/rbaliyan/playermail/archive"
	archivegcs "github.com/rbaliyan/playermail/archive/gcs"
	archiveotel "github.com/rbaliyan/playermail/archive/otel"
	archives3 "github.com/rbaliyan/playermail/archive/s3"
	"github.com/rbaliyan/playermail/directory"
	"github.com/rbaliyan/playermail/store"
	"github.com/rbaliyan/playermail/store/bolt"
	"github.com/rbaliyan/playermail/store/memory"
	"github.com/rbaliyan/playermail/store/mongo"
	"github.com/rbaliyan/playermail/store/postgres"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Prefix is prepended to every variable name.
const Prefix = "PLAYERMAIL_"

// ErrUnknownDriver is returned for an unrecognised backend name.
var ErrUnknownDriver = errors.New("config: unknown driver")

// Config is the full service configuration.
type Config struct {
	ServerName       string `env:"SERVER_NAME" envDefault:"Server"`
	SystemSenderName string `env:"SYSTEM_SENDER_NAME" envDefault:"Server"`

	MaxSubjectLength int `env:"MAX_SUBJECT_LENGTH" envDefault:"50"`
	MaxContentLength int `env:"MAX_CONTENT_LENGTH" envDefault:"500"`
	MaxItems         int `env:"MAX_ITEMS" envDefault:"27"`

	Cooldown         time.Duration `env:"COOLDOWN" envDefault:"30s"`
	CooldownCapacity int           `env:"COOLDOWN_CAPACITY" envDefault:"10000"`

	PlayerPlaceholder string `env:"PLAYER_PLACEHOLDER" envDefault:"%player%"`
	ConsolePrefix     string `env:"CONSOLE_PREFIX" envDefault:"console:"`

	MaxConcurrentSends int           `env:"MAX_CONCURRENT_SENDS" envDefault:"10"`
	BroadcastWorkers   int           `env:"BROADCAST_WORKERS" envDefault:"4"`
	ProgressInterval   int           `env:"PROGRESS_INTERVAL" envDefault:"50"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	Tracing     bool   `env:"TRACING" envDefault:"false"`
	Metrics     bool   `env:"METRICS" envDefault:"false"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"playermail"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// ReconcileSchedule drives the maintenance sweeper. Empty disables it.
	ReconcileSchedule string `env:"RECONCILE_SCHEDULE" envDefault:"@hourly"`

	Store   StoreConfig   `envPrefix:"STORE_"`
	Redis   RedisConfig   `envPrefix:"REDIS_"`
	Archive ArchiveConfig `envPrefix:"ARCHIVE_"`
}

// StoreConfig selects and configures the mail store.
type StoreConfig struct {
	// Driver is one of memory, bolt, postgres, mongo.
	Driver  string        `env:"DRIVER" envDefault:"bolt"`
	Path    string        `env:"PATH" envDefault:"playermail.db"`
	DSN     string        `env:"DSN"`
	Table   string        `env:"TABLE" envDefault:"player_mail"`
	URI     string        `env:"URI"`
	DB      string        `env:"DATABASE" envDefault:"playermail"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

// RedisConfig enables the shared player directory and event transport.
// Both stay in-process when Addrs is empty.
type RedisConfig struct {
	Addrs    []string `env:"ADDRS" envSeparator:","`
	Username string   `env:"USERNAME"`
	Password string   `env:"PASSWORD"`
	DB       int      `env:"DB" envDefault:"0"`
	Prefix   string   `env:"PREFIX" envDefault:"playermail:directory"`
	Events   bool     `env:"EVENTS" envDefault:"true"`
}

// ArchiveConfig selects where hard-deleted records are copied.
type ArchiveConfig struct {
	// Driver is one of none, s3, gcs.
	Driver string `env:"DRIVER" envDefault:"none"`
	Bucket string `env:"BUCKET"`
	Prefix string `env:"PREFIX" envDefault:"playermail/archive"`

	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	PathStyle bool   `env:"S3_PATH_STYLE"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	RoleARN   string `env:"S3_ROLE_ARN"`

	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
	GCSEndpoint     string `env:"GCS_ENDPOINT"`
}

// Load parses the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Logger returns a text logger on stderr at the configured level.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Options converts the scalar settings into service options. Backends
// are opened separately with OpenStore, OpenRedis and OpenArchive.
func (c *Config) Options() []playermail.Option {
	return []playermail.Option{
		playermail.WithServerName(c.ServerName),
		playermail.WithSystemSenderName(c.SystemSenderName),
		playermail.WithMaxSubjectLength(c.MaxSubjectLength),
		playermail.WithMaxContentLength(c.MaxContentLength),
		playermail.WithMaxItems(c.MaxItems),
		playermail.WithCooldown(c.Cooldown),
		playermail.WithCooldownCapacity(c.CooldownCapacity),
		playermail.WithCommandSyntax(c.PlayerPlaceholder, c.ConsolePrefix),
		playermail.WithMaxConcurrentSends(c.MaxConcurrentSends),
		playermail.WithBroadcastWorkers(c.BroadcastWorkers),
		playermail.WithProgressInterval(c.ProgressInterval),
		playermail.WithShutdownTimeout(c.ShutdownTimeout),
		playermail.WithTracing(c.Tracing),
		playermail.WithMetrics(c.Metrics),
		playermail.WithServiceName(c.ServiceName),
	}
}

// CloseFunc releases a connection opened by this package.
type CloseFunc func(ctx context.Context) error

func noClose(context.Context) error { return nil }

// OpenStore builds the configured store. The returned CloseFunc releases
// the underlying connection after the service has closed the store.
func (c *Config) OpenStore(ctx context.Context, logger *slog.Logger) (store.Store, CloseFunc, error) {
	sc := c.Store
	switch sc.Driver {
	case "memory":
		return memory.New(), noClose, nil

	case "bolt":
		return bolt.New(sc.Path, bolt.WithTimeout(sc.Timeout), bolt.WithLogger(logger)), noClose, nil

	case "postgres":
		if sc.DSN == "" {
			return nil, nil, fmt.Errorf("config: postgres requires %sSTORE_DSN", Prefix)
		}
		db, err := sqlx.ConnectContext(ctx, "postgres", sc.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("config: connect postgres: %w", err)
		}
		s := postgres.New(db, postgres.WithTable(sc.Table), postgres.WithTimeout(sc.Timeout), postgres.WithLogger(logger))
		return s, func(context.Context) error { return db.Close() }, nil

	case "mongo":
		if sc.URI == "" {
			return nil, nil, fmt.Errorf("config: mongo requires %sSTORE_URI", Prefix)
		}
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(sc.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("config: connect mongo: %w", err)
		}
		s := mongo.New(client, mongo.WithDatabase(sc.DB), mongo.WithTimeout(sc.Timeout), mongo.WithLogger(logger))
		return s, client.Disconnect, nil
	}
	return nil, nil, fmt.Errorf("%w: store %q", ErrUnknownDriver, sc.Driver)
}

// OpenRedis returns a client when Redis is configured, or nil.
func (c *Config) OpenRedis() redis.UniversalClient {
	if len(c.Redis.Addrs) == 0 {
		return nil
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Redis.Addrs,
		Username: c.Redis.Username,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// RedisOptions wires a Redis client into the service: the shared player
// history and, when enabled, the event transport. Presence stays with the
// game server.
func (c *Config) RedisOptions(client redis.UniversalClient) []playermail.Option {
	if client == nil {
		return nil
	}
	opts := []playermail.Option{
		playermail.WithHistory(directory.NewRedis(client, directory.WithRedisPrefix(c.Redis.Prefix))),
	}
	if c.Redis.Events {
		opts = append(opts, playermail.WithRedisClient(client))
	}
	return opts
}

// OpenArchive builds the configured archive sink, or nil for "none". The
// sink is instrumented when tracing or metrics are on.
func (c *Config) OpenArchive(ctx context.Context, logger *slog.Logger) (archive.Sink, CloseFunc, error) {
	ac := c.Archive
	var (
		sink   archive.Sink
		closer CloseFunc = noClose
	)
	switch ac.Driver {
	case "", "none":
		return nil, noClose, nil

	case "s3":
		opts := []archives3.Option{
			archives3.WithBucket(ac.Bucket),
			archives3.WithPrefix(ac.Prefix),
			archives3.WithRegion(ac.Region),
			archives3.WithLogger(logger),
		}
		if ac.Endpoint != "" {
			opts = append(opts, archives3.WithEndpoint(ac.Endpoint, ac.PathStyle))
		}
		if ac.AccessKey != "" {
			opts = append(opts, archives3.WithStaticCredentials(ac.AccessKey, ac.SecretKey, ""))
		}
		if ac.RoleARN != "" {
			opts = append(opts, archives3.WithAssumeRole(ac.RoleARN, "", ""))
		}
		s, err := archives3.New(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		sink = s

	case "gcs":
		opts := []archivegcs.Option{
			archivegcs.WithBucket(ac.Bucket),
			archivegcs.WithPrefix(ac.Prefix),
			archivegcs.WithLogger(logger),
		}
		if ac.CredentialsFile != "" {
			opts = append(opts, archivegcs.WithCredentialsFile(ac.CredentialsFile))
		}
		if ac.GCSEndpoint != "" {
			opts = append(opts, archivegcs.WithEndpoint(ac.GCSEndpoint))
		}
		s, err := archivegcs.New(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		sink, closer = s, func(context.Context) error { return s.Close() }

	default:
		return nil, nil, fmt.Errorf("%w: archive %q", ErrUnknownDriver, ac.Driver)
	}

	if c.Tracing || c.Metrics {
		wrapped, err := archiveotel.New(sink,
			archiveotel.WithTracing(c.Tracing),
			archiveotel.WithMetrics(c.Metrics),
			archiveotel.WithServiceName(c.ServiceName),
		)
		if err != nil {
			_ = closer(ctx)
			return nil, nil, err
		}
		sink = wrapped
	}
	return sink, closer, nil
}
