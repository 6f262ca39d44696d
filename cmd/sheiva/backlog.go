package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/sheiva/sheiva-cloud/internal/backlog"
	"github.com/sheiva/sheiva-cloud/internal/replayui"
)

func backlogCommand() *cli.Command {
	return &cli.Command{
		Name:  "backlog",
		Usage: "Save, replay or redrive dead-lettered scrape requests",
		Subcommands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Drain the dead-letter queue into a backlog file",
				Flags: []cli.Flag{
					deadLetterFlag(),
					&cli.StringFlag{
						Name:  "file",
						Usage: "Backlog file to write (default backlog-<id>.json)",
					},
					&cli.BoolFlag{
						Name:  "delete",
						Usage: "Delete the saved messages once the file is written",
					},
				},
				Action: saveBacklog,
			},
			{
				Name:  "push",
				Usage: "Send the entries of a backlog file to the source queue",
				Flags: []cli.Flag{
					sourceFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Backlog file to read",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of concurrent senders",
						Value: 10,
					},
					&cli.BoolFlag{
						Name:  "ui",
						Usage: "Show progress in an interactive terminal UI",
					},
				},
				Action: pushBacklog,
			},
			{
				Name:   "redrive",
				Usage:  "Move every dead-lettered message back to the source queue",
				Flags:  []cli.Flag{deadLetterFlag(), sourceFlag()},
				Action: redriveBacklog,
			},
		},
	}
}

func deadLetterFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "dead-letter-queue-url",
		Usage:    "Dead-letter queue URL",
		Required: true,
		EnvVars:  []string{"DEADLETTER_QUEUE_URL"},
	}
}

func sourceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "queue-url",
		Usage:    "Source queue URL",
		Required: true,
		EnvVars:  []string{"MAIN_QUEUE"},
	}
}

func saveBacklog(c *cli.Context) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	clients, err := clients(ctx)
	if err != nil {
		return err
	}

	file := c.String("file")
	if file == "" {
		file = "backlog-" + xid.New().String() + ".json"
	}

	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create backlog file: %w", err)
	}

	n, err := backlog.Save(ctx, clients.Queue(c.String("dead-letter-queue-url")), f, c.Bool("delete"))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to save backlog: %w", err)
	}

	log.Info().Int("entries", n).Str("file", file).Bool("deleted", c.Bool("delete")).Msg("Backlog saved")
	return nil
}

func pushBacklog(c *cli.Context) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	f, err := os.Open(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to open backlog file: %w", err)
	}
	entries, err := backlog.Load(f)
	f.Close()
	if err != nil {
		return err
	}

	clients, err := clients(ctx)
	if err != nil {
		return err
	}
	q := clients.Queue(c.String("queue-url"))
	concurrency := c.Int("concurrency")

	if !c.Bool("ui") {
		err := backlog.Push(ctx, q, entries, concurrency, nil)
		if err == nil {
			log.Info().Int("entries", len(entries)).Msg("Backlog pushed")
		}
		return err
	}

	// the UI owns the terminal; keep log lines out of it
	log.Logger = log.Logger.Output(io.Discard)
	return replayui.Run(ctx, replayui.Config{
		QueueURL:    q.URL(),
		BacklogFile: c.String("file"),
		Concurrency: concurrency,
		Total:       len(entries),
	}, func(progress func(backlog.Result)) error {
		return backlog.Push(ctx, q, entries, concurrency, progress)
	})
}

func redriveBacklog(c *cli.Context) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	clients, err := clients(ctx)
	if err != nil {
		return err
	}

	n, err := backlog.Redrive(ctx, clients.Queue(c.String("dead-letter-queue-url")), clients.Queue(c.String("queue-url")))
	log.Info().Int("moved", n).Msg("Dead-letter queue redriven")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
