// Command lambda-transformer splits scraped workout files into CSV tables.
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
	cfg, err := config.Load[config.Transformer]()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Setup(cfg.LogLevel, false)

	clients, err := app.NewClients(context.Background(), cfg.Common)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create AWS clients")
	}

	h := app.NewTransformHandler(cfg, clients, nil)
	if cfg.DeadLetterQueueURL == "" {
		log.Warn().Msg("No transform dead-letter queue configured, failed files stay on the source queue")
	}

	lambda.Start(h.HandleEvent)
}
