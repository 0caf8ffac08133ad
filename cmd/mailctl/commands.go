package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rbaliyan/playermail"
	"github.com/rbaliyan/playermail/maintenance"
	"github.com/rbaliyan/playermail/store"
	"github.com/urfave/cli/v2"
)

var playerIDFlag = &cli.StringFlag{
	Name:     "player-id",
	Aliases:  []string{"p"},
	Usage:    "player UUID",
	Required: true,
}

func inboxCommand() *cli.Command {
	return &cli.Command{
		Name:  "inbox",
		Usage: "list a player's inbox",
		Flags: []cli.Flag{
			playerIDFlag,
			&cli.BoolFlag{Name: "sent", Usage: "list sent mail instead"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			id := c.String("player-id")
			list := e.svc.Inbox
			if c.Bool("sent") {
				list = e.svc.Sent
			}
			mails, err := list(c.Context, id)
			if err != nil {
				return err
			}
			return printMails(c.App.Writer, mails)
		}),
	}
}

func printMails(out io.Writer, mails []*store.Mail) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSENT\tFROM\tTO\tSUBJECT\tFLAGS")
	for _, m := range mails {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.SentAt.Format(time.DateTime), m.SenderName, m.ReceiverName, m.Subject, flags(m))
	}
	return w.Flush()
}

func flags(m *store.Mail) string {
	f := []byte("----")
	if m.Read {
		f[0] = 'r'
	}
	if m.HasAttachment() {
		f[1] = 'i'
		if m.Claimed {
			f[1] = 'I'
		}
	}
	if m.HasCommands() {
		f[2] = 'c'
		if m.CommandsExecuted {
			f[2] = 'C'
		}
	}
	if m.IsSystem() {
		f[3] = 's'
	}
	return string(f)
}

func unreadCommand() *cli.Command {
	return &cli.Command{
		Name:  "unread",
		Usage: "count a player's unread mail",
		Flags: []cli.Flag{playerIDFlag},
		Action: withEnv(func(c *cli.Context, e *env) error {
			n, err := e.svc.UnreadCount(c.Context, c.String("player-id"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, n)
			return nil
		}),
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send server mail to one or more players",
		ArgsUsage: "NAME...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}},
			&cli.StringSliceFlag{Name: "command", Aliases: []string{"c"}, Usage: "command run on first read"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			names := c.Args().Slice()
			if len(names) == 0 {
				return cli.Exit("at least one receiver name is required", 2)
			}
			failed := 0
			for _, name := range names {
				m, err := e.svc.SendSystem(c.Context, playermail.SendRequest{
					ReceiverName: name,
					Subject:      c.String("subject"),
					Body:         c.String("body"),
					Commands:     c.StringSlice("command"),
				})
				if err != nil {
					failed++
					fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", name, err)
					continue
				}
				fmt.Fprintf(c.App.Writer, "%s: %s\n", name, m.ID)
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d deliveries failed", failed, len(names)), 1)
			}
			return nil
		}),
	}
}

func broadcastCommand() *cli.Command {
	return &cli.Command{
		Name:  "broadcast",
		Usage: "send server mail to every known player",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Required: true},
			&cli.StringSliceFlag{Name: "command", Aliases: []string{"c"}},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			job, err := e.svc.SendToAll(c.Context, playermail.BroadcastRequest{
				Subject:  c.String("subject"),
				Body:     c.String("body"),
				Commands: c.StringSlice("command"),
				Progress: func(p playermail.Progress) {
					e.logger.Info("broadcast progress", "done", p.Done, "total", p.Total)
				},
			})
			if err != nil {
				return err
			}
			return printJob(c, job)
		}),
	}
}

func printJob(c *cli.Context, job *playermail.Job) error {
	res, err := job.Wait(c.Context)
	if err != nil {
		job.Cancel()
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s: delivered %d/%d, failed %d",
		job.Kind(), job.ID(), res.Delivered, res.Total, res.Failed)
	if res.EmailsSent+res.EmailsFailed > 0 {
		fmt.Fprintf(c.App.Writer, ", emails %d sent %d failed", res.EmailsSent, res.EmailsFailed)
	}
	if res.Interrupted {
		fmt.Fprint(c.App.Writer, " (interrupted)")
	}
	fmt.Fprintln(c.App.Writer)
	return nil
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "remove records both sides deleted but that are still stored",
		Action: withEnv(func(c *cli.Context, e *env) error {
			res, err := maintenance.New(e.svc, maintenance.WithLogger(e.logger)).RunOnce(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "deleted %d, failed %d\n", res.Deleted, res.Failed)
			return nil
		}),
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "run reconciliation on a schedule until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "cron expression, defaults to PLAYERMAIL_RECONCILE_SCHEDULE"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			schedule := c.String("schedule")
			if schedule == "" {
				schedule = e.cfg.ReconcileSchedule
			}
			if schedule == "" {
				return cli.Exit("no schedule configured", 2)
			}
			sw := maintenance.New(e.svc, maintenance.WithSchedule(schedule), maintenance.WithLogger(e.logger))
			if err := sw.Start(c.Context); err != nil {
				return err
			}
			<-c.Context.Done()
			sw.Stop()
			return nil
		}),
	}
}
