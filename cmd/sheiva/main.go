// Command sheiva runs the queue handlers outside Lambda and operates on the
// queues: polling, scheduling triggers, and saving or replaying backlogs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/sheiva/sheiva-cloud/internal/app"
	"github.com/sheiva/sheiva-cloud/internal/config"
	"github.com/sheiva/sheiva-cloud/internal/logging"
)

func main() {
	_ = godotenv.Load(".env")
	logging.Setup("info", true)

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Application failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sheiva",
		Usage: "Run and operate the workout scraping pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Usage:   "Log JSON instead of console output",
				EnvVars: []string{"LOG_JSON"},
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.String("log-level"), !c.Bool("json"))
			return nil
		},
		Commands: []*cli.Command{
			pollCommand(),
			cronCommand(),
			backlogCommand(),
			purgeCommand(),
		},
	}
}

// signalContext is cancelled on ctrl-c or SIGTERM, which is what docker
// sends.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// clients loads the shared AWS settings from the environment.
func clients(ctx context.Context) (app.Clients, error) {
	common, err := config.Load[config.Common]()
	if err != nil {
		return app.Clients{}, err
	}
	return app.NewClients(ctx, common)
}
