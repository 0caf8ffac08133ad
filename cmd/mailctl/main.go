// Command mailctl administers a playermail database from outside the game
// server: inspecting inboxes, sending server mail, broadcasting and
// running the reconciliation sweep.
//
// Settings come from PLAYERMAIL_* environment variables; see package config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rbaliyan/playermail"
	"github.com/rbaliyan/playermail/config"
	"github.com/rbaliyan/playermail/directory"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mailctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mailctl",
		Usage: "administer player mail",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "player",
				Usage: "known player as id=name, used when no Redis directory is configured",
			},
		},
		Commands: []*cli.Command{
			inboxCommand(),
			unreadCommand(),
			sendCommand(),
			broadcastCommand(),
			reconcileCommand(),
			sweepCommand(),
		},
	}
}

// env holds everything a command needs; release undoes open.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	svc     playermail.Service
	closers []config.CloseFunc
}

func open(c *cli.Context) (*env, error) {
	ctx := c.Context
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	e := &env{cfg: cfg, logger: logger}

	st, closeStore, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeStore)

	opts := append(cfg.Options(), playermail.WithStore(st), playermail.WithLogger(logger))

	if client := cfg.OpenRedis(); client != nil {
		e.closers = append(e.closers, func(context.Context) error { return client.Close() })
		opts = append(opts, cfg.RedisOptions(client)...)
	} else {
		players, err := parsePlayers(c.StringSlice("player"))
		if err != nil {
			e.release(ctx)
			return nil, err
		}
		opts = append(opts, playermail.WithHistory(directory.NewStatic(players...)))
	}

	sink, closeSink, err := cfg.OpenArchive(ctx, logger)
	if err != nil {
		e.release(ctx)
		return nil, err
	}
	e.closers = append(e.closers, closeSink)
	if sink != nil {
		opts = append(opts, playermail.WithArchive(sink))
	}

	svc, err := playermail.NewService(opts...)
	if err != nil {
		e.release(ctx)
		return nil, err
	}
	if err := svc.Connect(ctx); err != nil {
		e.release(ctx)
		return nil, err
	}
	e.svc = svc
	return e, nil
}

func (e *env) release(ctx context.Context) {
	// The caller's context may already be cancelled by a signal.
	ctx = context.WithoutCancel(ctx)
	if e.svc != nil {
		if err := e.svc.Close(ctx); err != nil {
			e.logger.Error("close service", "error", err)
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			e.logger.Error("close backend", "error", err)
		}
	}
}

// withEnv runs fn against a connected service.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := open(c)
		if err != nil {
			return err
		}
		defer e.release(c.Context)
		return fn(c, e)
	}
}

func parsePlayers(specs []string) ([]playermail.Player, error) {
	players := make([]playermail.Player, 0, len(specs))
	for _, spec := range specs {
		id, name, ok := strings.Cut(spec, "=")
		if !ok || id == "" || name == "" {
			return nil, fmt.Errorf("invalid --player %q, want id=name", spec)
		}
		players = append(players, playermail.Player{ID: id, Name: name})
	}
	return players, nil
}
