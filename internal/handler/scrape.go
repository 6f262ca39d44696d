package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/sheiva/sheiva-cloud/internal/batch"
	"github.com/sheiva/sheiva-cloud/internal/dedup"
	"github.com/sheiva/sheiva-cloud/internal/logging"
	"github.com/sheiva/sheiva-cloud/internal/message"
	"github.com/sheiva/sheiva-cloud/internal/metrics"
	"github.com/sheiva/sheiva-cloud/internal/queue"
	"github.com/sheiva/sheiva-cloud/internal/reconcile"
	"github.com/sheiva/sheiva-cloud/internal/scrape"
	"github.com/sheiva/sheiva-cloud/internal/storage"
)

// ScrapeHandler consumes scrape requests. The scraped workouts of a message
// are stored as one JSON array under the message's bucket key, and URLs
// that could not be scraped are dead-lettered together with that key.
type ScrapeHandler struct {
	Scraper    Scraper
	Sink       *storage.Sink
	Reconciler *reconcile.Reconciler
	Processor  batch.Processor
	// Dedup is optional.
	Dedup   dedup.Store
	Reserve time.Duration
	Metrics *metrics.Metrics
}

func (h *ScrapeHandler) HandleEvent(ctx context.Context, event events.SQSEvent) error {
	return h.Handle(ctx, message.FromLambdaEvent(event))
}

func (h *ScrapeHandler) Handle(ctx context.Context, raws []queue.RawMessage) error {
	l := logging.Invocation("scrape")
	l.Info().Int("messages", len(raws)).Msg("Received scrape requests")
	h.Metrics.Received(len(raws))

	requests, malformed := message.ParseBatch(raws, message.ParseScrapeRequest)
	h.Metrics.Malformed(len(malformed))
	errs := malformedErrors(malformed)

	procCtx, cancel := processingContext(ctx, h.Reserve)
	defer cancel()

	for _, req := range requests {
		ml := l.With().
			Str("message_id", req.Raw.MessageID).
			Str("bucket_key", req.Payload.BucketKey).
			Logger()
		if err := h.handleMessage(ctx, procCtx, req, ml); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		l.Error().Err(err).Msg("Scrape requests not fully handled")
	}
	return err
}

func (h *ScrapeHandler) handleMessage(ctx, procCtx context.Context, req message.Parsed[message.ScrapeRequest], l zerolog.Logger) error {
	if alreadyProcessed(ctx, h.Dedup, l, req.Raw.MessageID) {
		l.Info().Msg("Message already processed, acknowledging")
		return h.Reconciler.Reconcile(ctx, reconcile.Plan{MessageID: req.Raw.MessageID, ReceiptHandle: req.Raw.ReceiptHandle})
	}

	out := batch.Process(procCtx, h.Processor, req.Payload.URLs, h.Scraper.Scrape)
	h.record(out, l)

	if !out.Complete() {
		l.Warn().Int("pending", len(out.Pending)).Msg("Ran out of time, leaving message for redelivery")
		return pendingError(req.Raw.MessageID, len(out.Pending))
	}

	if len(out.Succeeded) > 0 {
		payload, err := json.Marshal(out.Succeeded)
		if err != nil {
			return fmt.Errorf("encoding workouts of %s: %w", req.Raw.MessageID, err)
		}
		key, err := h.Sink.Put(ctx, req.Payload.BucketKey, "json", payload)
		if err != nil {
			l.Error().Err(err).Msg("Failed to store workouts, leaving message for redelivery")
			return err
		}
		l.Info().Str("key", key).Int("workouts", len(out.Succeeded)).Msg("Stored workouts")
	}

	plan, err := reconcile.NewPlan(req.Raw, out.FailedItems(), map[string]string{
		message.AttrBucketKey: req.Payload.BucketKey,
	})
	if err != nil {
		return err
	}
	if err := h.Reconciler.Reconcile(ctx, plan); err != nil {
		return err
	}

	markProcessed(ctx, h.Dedup, l, req.Raw.MessageID, "scrape")
	return nil
}

func (h *ScrapeHandler) record(out batch.Outcome[string, *scrape.Workout], l zerolog.Logger) {
	var empty int
	for _, f := range out.Failed {
		if f.Empty() {
			empty++
			l.Info().Str("url", f.Item).Msg("Workout inaccessible")
			continue
		}
		l.Warn().Err(f.Err).Str("url", f.Item).Msg("Failed to scrape workout")
	}
	h.Metrics.Items(metrics.OutcomeSucceeded, len(out.Succeeded))
	h.Metrics.Items(metrics.OutcomeFailed, len(out.Failed)-empty)
	h.Metrics.Items(metrics.OutcomeEmpty, empty)
	h.Metrics.Items(metrics.OutcomePending, len(out.Pending))

	l.Info().
		Int("succeeded", len(out.Succeeded)).
		Int("failed", len(out.Failed)).
		Int("pending", len(out.Pending)).
		Msg("Scraped workouts")
}
