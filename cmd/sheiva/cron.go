package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/sheiva/sheiva-cloud/internal/app"
	"github.com/sheiva/sheiva-cloud/internal/config"
)

func cronCommand() *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Send scrape and transform triggers on a cron schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression",
				Value:   "*/15 * * * *",
				EnvVars: []string{"CRON_SCHEDULE"},
			},
			&cli.StringSliceFlag{
				Name:    "target",
				Usage:   "Triggers to send (scrape, transform)",
				Value:   cli.NewStringSlice("scrape"),
				EnvVars: []string{"CRON_TARGETS"},
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Send the triggers once and exit",
			},
		},
		Action: startCron,
	}
}

func startCron(c *cli.Context) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	var runs []func(context.Context) error
	for _, target := range c.StringSlice("target") {
		switch target {
		case "scrape":
			cfg, err := config.Load[config.Cron]()
			if err != nil {
				return err
			}
			clients, err := app.NewClients(ctx, cfg.Common)
			if err != nil {
				return err
			}
			trigger := app.NewCronTrigger(cfg, clients)
			runs = append(runs, func(ctx context.Context) error {
				_, err := trigger.Run(ctx)
				return err
			})
		case "transform":
			cfg, err := config.Load[config.TransformTrigger]()
			if err != nil {
				return err
			}
			clients, err := app.NewClients(ctx, cfg.Common)
			if err != nil {
				return err
			}
			trigger := app.NewTransformTrigger(cfg, clients)
			runs = append(runs, func(ctx context.Context) error {
				_, err := trigger.Run(ctx)
				return err
			})
		default:
			return fmt.Errorf("invalid cron target: %s", target)
		}
	}

	run := func(ctx context.Context) error {
		var errs []error
		for _, r := range runs {
			errs = append(errs, r(ctx))
		}
		return errors.Join(errs...)
	}

	if c.Bool("once") {
		return run(ctx)
	}

	log.Info().Str("schedule", c.String("schedule")).Strs("targets", c.StringSlice("target")).Msg("Starting trigger schedule")
	err := app.Schedule(ctx, c.String("schedule"), run)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
