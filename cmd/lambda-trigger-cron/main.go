// Command lambda-trigger-cron sends a scrape trigger on every scheduled
// invocation.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/sheiva/sheiva-cloud/internal/app"
	"github.com/sheiva/sheiva-cloud/internal/config"
	"github.com/sheiva/sheiva-cloud/internal/logging"
)

func main() {
	cfg, err := config.Load[config.Cron]()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Setup(cfg.LogLevel, false)

	clients, err := app.NewClients(context.Background(), cfg.Common)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create AWS clients")
	}

	lambda.Start(app.NewCronTrigger(cfg, clients).HandleEvent)
}
