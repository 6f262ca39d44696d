package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/sheiva/sheiva-cloud/internal/app"
	"github.com/sheiva/sheiva-cloud/internal/config"
	"github.com/sheiva/sheiva-cloud/internal/metrics"
	"github.com/sheiva/sheiva-cloud/internal/poller"
)

func pollCommand() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Long-poll a handler's source queue instead of running it in Lambda",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "handler",
				Usage:    "Handler to run (scrape, trigger, transform)",
				Required: true,
				EnvVars:  []string{"HANDLER"},
			},
			&cli.DurationFlag{
				Name:    "batch-timeout",
				Usage:   "Time allowed for one received batch",
				Value:   poller.DefaultConfig().BatchTimeout,
				EnvVars: []string{"BATCH_TIMEOUT"},
			},
		},
		Action: startPoller,
	}
}

func startPoller(c *cli.Context) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pcfg := poller.DefaultConfig()
	pcfg.BatchTimeout = c.Duration("batch-timeout")

	name := c.String("handler")
	var (
		common  config.Common
		source  poller.Source
		handler poller.Handler
	)
	switch name {
	case "scrape":
		cfg, err := config.Load[config.Scraper]()
		if err != nil {
			return err
		}
		clients, err := app.NewClients(ctx, cfg.Common)
		if err != nil {
			return err
		}
		h, store, err := app.NewScrapeHandler(ctx, cfg, clients, m)
		if err != nil {
			return fmt.Errorf("failed to create scrape handler: %w", err)
		}
		defer store.Close()
		if err := h.Sink.CheckBucket(ctx); err != nil {
			return err
		}
		common, source, handler = cfg.Common, clients.PollQueue(cfg.SourceQueueURL), h
		pcfg.Dedup, pcfg.DedupTTL = store, cfg.TTL
	case "trigger":
		cfg, err := config.Load[config.Trigger]()
		if err != nil {
			return err
		}
		clients, err := app.NewClients(ctx, cfg.Common)
		if err != nil {
			return err
		}
		h := app.NewTriggerHandler(cfg, clients, m)
		if err := h.Sink.CheckBucket(ctx); err != nil {
			return err
		}
		common, source, handler = cfg.Common, clients.PollQueue(cfg.TriggerQueueURL), h
	case "transform":
		cfg, err := config.Load[config.Transformer]()
		if err != nil {
			return err
		}
		clients, err := app.NewClients(ctx, cfg.Common)
		if err != nil {
			return err
		}
		common, source, handler = cfg.Common, clients.PollQueue(cfg.SourceQueueURL), app.NewTransformHandler(cfg, clients, m)
	default:
		return fmt.Errorf("invalid handler: %s", name)
	}

	if common.MetricsAddr != "" {
		go func() {
			if err := poller.Serve(ctx, common.MetricsAddr, reg); err != nil {
				log.Error().Err(err).Str("addr", common.MetricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	err := poller.New(name, source, handler, pcfg).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
