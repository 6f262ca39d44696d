package handler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/sheiva/sheiva-cloud/internal/batch"
	"github.com/sheiva/sheiva-cloud/internal/logging"
	"github.com/sheiva/sheiva-cloud/internal/message"
	"github.com/sheiva/sheiva-cloud/internal/metrics"
	"github.com/sheiva/sheiva-cloud/internal/queue"
	"github.com/sheiva/sheiva-cloud/internal/reconcile"
	"github.com/sheiva/sheiva-cloud/internal/storage"
	"github.com/sheiva/sheiva-cloud/internal/transform"
)

// TransformHandler splits each requested scraped file into one CSV per
// component, written to <output>/<component>/<stem>.csv. Each message
// carries a single file, so messages are the work items. Files that are
// missing or cannot be transformed are dead-lettered; a message whose file
// could not be read or written for any other reason stays on the queue.
type TransformHandler struct {
	Transformer Transformer
	Sink        *storage.Sink
	Reconciler  *reconcile.Reconciler
	Processor   batch.Processor
	Reserve     time.Duration
	Metrics     *metrics.Metrics
}

type transformed struct {
	msg  message.Parsed[message.TransformRequest]
	keys []string
}

func (h *TransformHandler) HandleEvent(ctx context.Context, event events.SQSEvent) error {
	return h.Handle(ctx, message.FromLambdaEvent(event))
}

func (h *TransformHandler) Handle(ctx context.Context, raws []queue.RawMessage) error {
	l := logging.Invocation("transform")
	h.Metrics.Received(len(raws))

	requests, malformed := message.ParseBatch(raws, message.ParseTransformRequest)
	h.Metrics.Malformed(len(malformed))
	errs := malformedErrors(malformed)

	procCtx, cancel := processingContext(ctx, h.Reserve)
	defer cancel()

	out := batch.Process(procCtx, h.Processor, requests, func(ctx context.Context, req message.Parsed[message.TransformRequest]) (transformed, error) {
		keys, err := h.transformFile(ctx, req.Payload, l)
		return transformed{msg: req, keys: keys}, err
	})
	h.Metrics.Items(metrics.OutcomeSucceeded, len(out.Succeeded))
	h.Metrics.Items(metrics.OutcomeFailed, len(out.Failed))
	h.Metrics.Items(metrics.OutcomePending, len(out.Pending))

	var plans []reconcile.Plan
	for _, t := range out.Succeeded {
		plans = append(plans, reconcile.Plan{MessageID: t.msg.Raw.MessageID, ReceiptHandle: t.msg.Raw.ReceiptHandle})
	}
	for _, f := range out.Failed {
		req := f.Item
		fl := l.With().Str("message_id", req.Raw.MessageID).Str("key", req.Payload.InputKey).Logger()
		if unavailable(f.Err) {
			fl.Error().Err(f.Err).Msg("Storage unavailable, leaving message for redelivery")
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrLeftOnQueue, req.Raw.MessageID, f.Err))
			continue
		}
		fl.Warn().Err(f.Err).Msg("Failed to transform file")
		plan, err := reconcile.NewPlan(req.Raw, []string{req.Payload.InputKey}, req.Raw.Attributes)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		plans = append(plans, plan)
	}
	for _, req := range out.Pending {
		errs = append(errs, pendingError(req.Raw.MessageID, 1))
	}

	if err := h.Reconciler.ReconcileAll(ctx, plans); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		l.Error().Err(err).Msg("Transform requests not fully handled")
	}
	return err
}

// unavailable reports a storage failure other than a missing input file.
// Those are retried by redelivery instead of dead-lettering the file.
func unavailable(err error) bool {
	var sErr *storage.Error
	return errors.As(err, &sErr) && !errors.Is(err, storage.ErrNotFound)
}

func (h *TransformHandler) transformFile(ctx context.Context, req message.TransformRequest, l zerolog.Logger) ([]string, error) {
	raw, err := h.Sink.Get(ctx, req.InputKey)
	if err != nil {
		return nil, err
	}
	tables, err := h.Transformer.Parse(raw)
	if err != nil {
		return nil, err
	}

	stem := storage.Stem(req.InputKey)
	components := make([]string, 0, len(tables))
	for c := range tables {
		components = append(components, c)
	}
	// workouts last: its presence marks the file as transformed
	slices.SortFunc(components, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == transform.Workouts:
			return 1
		case b == transform.Workouts:
			return -1
		case a < b:
			return -1
		default:
			return 1
		}
	})

	keys := make([]string, 0, len(components))
	for _, c := range components {
		data, err := transform.EncodeCSV(tables[c])
		if err != nil {
			return keys, err
		}
		key := path.Join(req.OutputKey, c, stem+".csv")
		if err := h.Sink.PutAt(ctx, key, data); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	l.Info().Str("key", req.InputKey).Strs("outputs", keys).Msg("Transformed file")
	return keys, nil
}
