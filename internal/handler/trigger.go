package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sheiva/sheiva-cloud/internal/logging"
	"github.com/sheiva/sheiva-cloud/internal/message"
	"github.com/sheiva/sheiva-cloud/internal/queue"
	"github.com/sheiva/sheiva-cloud/internal/reconcile"
	"github.com/sheiva/sheiva-cloud/internal/storage"
)

// LinksPrefix holds one JSON array of workout links per gender and age
// group, e.g. user-data/user-workout-links/male/18-25.json.
const LinksPrefix = "user-data/user-workout-links"

// ScrapedPrefix is where scraped workouts are stored, per gender and age
// group.
const ScrapedPrefix = "workout-data"

// TriggerHandler moves the next Count links of every age group from the
// link files onto the link queue as scrape requests. Links are removed
// from a file only after they were queued.
type TriggerHandler struct {
	Sink *storage.Sink
	// Links receives the scrape requests.
	Links      Sender
	Reconciler *reconcile.Reconciler
	Gender     string

	MaxItemsPerMessage int
	Concurrency        int
}

func (h *TriggerHandler) HandleEvent(ctx context.Context, event events.SQSEvent) error {
	return h.Handle(ctx, message.FromLambdaEvent(event))
}

func (h *TriggerHandler) Handle(ctx context.Context, raws []queue.RawMessage) error {
	l := logging.Invocation("trigger").With().Str("gender", h.Gender).Logger()

	requests, malformed := message.ParseBatch(raws, h.parse)
	errs := malformedErrors(malformed)

	for _, req := range requests {
		ml := l.With().Str("message_id", req.Raw.MessageID).Int("count", req.Payload.Count).Logger()
		if err := h.queueLinks(ctx, req.Payload.Count, ml); err != nil {
			ml.Error().Err(err).Msg("Failed to queue workout links, leaving trigger for redelivery")
			errs = append(errs, err)
			continue
		}
		plan := reconcile.Plan{MessageID: req.Raw.MessageID, ReceiptHandle: req.Raw.ReceiptHandle}
		if err := h.Reconciler.Reconcile(ctx, plan); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *TriggerHandler) parse(raw queue.RawMessage) (message.TriggerRequest, error) {
	req, err := message.ParseTriggerRequest(raw)
	if err != nil {
		return req, err
	}
	if h.MaxItemsPerMessage > 0 && req.Count > h.MaxItemsPerMessage {
		return message.TriggerRequest{}, fmt.Errorf("link count %d exceeds maximum %d", req.Count, h.MaxItemsPerMessage)
	}
	return req, nil
}

func (h *TriggerHandler) queueLinks(ctx context.Context, count int, l zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, h.Concurrency))

	var (
		files   int
		listErr error
	)
	prefix := path.Join(LinksPrefix, h.Gender) + "/"
	for key, err := range h.Sink.List(gctx, prefix, ".json") {
		if err != nil {
			listErr = err
			break
		}
		files++
		g.Go(func() error {
			return h.moveLinks(gctx, key, count, l)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if listErr != nil {
		return listErr
	}
	l.Info().Int("files", files).Msg("Queued workout links")
	return nil
}

func (h *TriggerHandler) moveLinks(ctx context.Context, key string, count int, l zerolog.Logger) error {
	data, err := h.Sink.Get(ctx, key)
	if err != nil {
		return err
	}
	var links []string
	if err := json.Unmarshal(data, &links); err != nil {
		return fmt.Errorf("decoding links in %s: %w", key, err)
	}

	bucketKey := path.Join(ScrapedPrefix, h.Gender, storage.Stem(key))
	l = l.With().Str("key", key).Str("bucket_key", bucketKey).Logger()
	if len(links) == 0 {
		l.Debug().Msg("No links left")
		return nil
	}

	n := min(count, len(links))
	body, attrs, err := message.EncodeScrapeRequest(message.ScrapeRequest{URLs: links[:n], BucketKey: bucketKey})
	if err != nil {
		return err
	}
	// Links leave the file only after they were queued. If the rewrite
	// fails, the redelivered trigger queues the same links again; scrape
	// dedup is keyed by message id and does not catch that.
	if _, err := h.Links.Send(ctx, body, attrs); err != nil {
		return fmt.Errorf("queueing links from %s: %w", key, err)
	}

	rest, err := json.Marshal(links[n:])
	if err != nil {
		return err
	}
	if err := h.Sink.PutAt(ctx, key, rest); err != nil {
		return err
	}
	l.Info().Int("queued", n).Int("remaining", len(links)-n).Msg("Queued workout links")
	return nil
}
