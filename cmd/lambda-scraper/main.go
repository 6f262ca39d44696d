// Command lambda-scraper scrapes the workout links of each message on the
// link queue into the scrape bucket.
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
	cfg, err := config.Load[config.Scraper]()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Setup(cfg.LogLevel, false)

	ctx := context.Background()
	clients, err := app.NewClients(ctx, cfg.Common)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create AWS clients")
	}

	h, _, err := app.NewScrapeHandler(ctx, cfg, clients, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scrape handler")
	}
	if err := h.Sink.CheckBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("Scrape bucket not reachable")
	}

	lambda.Start(h.HandleEvent)
}
