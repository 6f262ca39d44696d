// Package app builds the handlers from configuration and AWS clients.
package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/sheiva/sheiva-cloud/internal/batch"
	"github.com/sheiva/sheiva-cloud/internal/config"
	"github.com/sheiva/sheiva-cloud/internal/dedup"
	"github.com/sheiva/sheiva-cloud/internal/handler"
	"github.com/sheiva/sheiva-cloud/internal/metrics"
	"github.com/sheiva/sheiva-cloud/internal/queue"
	"github.com/sheiva/sheiva-cloud/internal/reconcile"
	"github.com/sheiva/sheiva-cloud/internal/scrape"
	"github.com/sheiva/sheiva-cloud/internal/storage"
	"github.com/sheiva/sheiva-cloud/internal/transform"
)

// Clients holds the AWS service clients shared by every component of a
// process.
type Clients struct {
	SQS queue.API
	S3  storage.API
}

// NewClients loads the default AWS configuration. AWS_ENDPOINT_URL points
// both services at a local emulator, which needs path-style bucket
// addressing.
func NewClients(ctx context.Context, c config.Common) (Clients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(c.AWSRegion))
	}
	if c.AWSEndpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(c.AWSEndpoint))
	}

	awsCFG, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return Clients{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return Clients{
		SQS: sqs.NewFromConfig(awsCFG),
		S3: s3.NewFromConfig(awsCFG, func(o *s3.Options) {
			o.UsePathStyle = c.AWSEndpoint != ""
		}),
	}, nil
}

func (c Clients) Queue(url string) *queue.Client {
	return queue.New(c.SQS, url)
}

// PollQueue is Queue for a long-running consumer: receives wait for
// messages instead of returning empty at once.
func (c Clients) PollQueue(url string) *queue.Client {
	return c.Queue(url).WithWaitTime(queue.MaxWaitTime)
}

// deadLetter returns nil for an empty url so the reconciler sees no
// dead-letter queue at all.
func (c Clients) deadLetter(url string) reconcile.Sender {
	if url == "" {
		return nil
	}
	return c.Queue(url)
}

// NewScrapeHandler also returns the dedup store so the caller can close it.
func NewScrapeHandler(ctx context.Context, cfg config.Scraper, clients Clients, m *metrics.Metrics) (*handler.ScrapeHandler, dedup.Store, error) {
	store, err := dedup.New(ctx, cfg.Dedup)
	if err != nil {
		return nil, nil, err
	}

	m = m.For("scrape")
	return &handler.ScrapeHandler{
		Scraper:    scrape.New(cfg.RequestTimeout, cfg.RateLimit),
		Sink:       storage.New(clients.S3, cfg.Bucket, m),
		Reconciler: reconcile.New(clients.Queue(cfg.SourceQueueURL), clients.deadLetter(cfg.DeadLetterQueueURL), m),
		Processor:  batch.Processor{Concurrency: cfg.Concurrency},
		Dedup:      store,
		Reserve:    cfg.ReconcileReserve,
		Metrics:    m,
	}, store, nil
}

func NewTriggerHandler(cfg config.Trigger, clients Clients, m *metrics.Metrics) *handler.TriggerHandler {
	m = m.For("trigger")
	return &handler.TriggerHandler{
		Sink:               storage.New(clients.S3, cfg.Bucket, m),
		Links:              clients.Queue(cfg.LinkQueueURL),
		Reconciler:         reconcile.New(clients.Queue(cfg.TriggerQueueURL), nil, m),
		Gender:             cfg.Gender,
		MaxItemsPerMessage: cfg.MaxItemsPerMessage,
		Concurrency:        cfg.Concurrency,
	}
}

func NewCronTrigger(cfg config.Cron, clients Clients) *handler.CronTrigger {
	return &handler.CronTrigger{
		Trigger:         clients.Queue(cfg.TriggerQueueURL),
		ItemsPerMessage: cfg.ItemsPerMessage,
	}
}

func NewTransformTrigger(cfg config.TransformTrigger, clients Clients) *handler.TransformTrigger {
	return &handler.TransformTrigger{
		Sink:              storage.New(clients.S3, cfg.Bucket, nil),
		Queue:             clients.Queue(cfg.TransformQueueURL),
		Limit:             cfg.Limit,
		ScrapedPrefix:     cfg.ScrapedPrefix,
		TransformedPrefix: cfg.TransformedPrefix,
	}
}

func NewTransformHandler(cfg config.Transformer, clients Clients, m *metrics.Metrics) *handler.TransformHandler {
	m = m.For("transform")
	return &handler.TransformHandler{
		Transformer: transform.WorkoutTree{},
		Sink:        storage.New(clients.S3, cfg.Bucket, m),
		Reconciler:  reconcile.New(clients.Queue(cfg.SourceQueueURL), clients.deadLetter(cfg.DeadLetterQueueURL), m),
		Processor:   batch.Processor{Concurrency: cfg.Concurrency},
		Reserve:     cfg.ReconcileReserve,
		Metrics:     m,
	}
}
