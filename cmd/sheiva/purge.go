package main

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete every message on a queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Queue URL",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm the purge",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return errors.New("refusing to purge without --yes")
			}

			clients, err := clients(c.Context)
			if err != nil {
				return err
			}
			if err := clients.Queue(c.String("queue-url")).Purge(c.Context); err != nil {
				return err
			}

			log.Info().Str("queue_url", c.String("queue-url")).Msg("Queue purged")
			return nil
		},
	}
}
