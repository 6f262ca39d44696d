// Package reconcile acknowledges processed messages on their source queue
// and publishes failed items to a dead-letter queue.
//
// A message with failures is published to the dead-letter queue before it is
// deleted from the source queue. If the publish fails the message is left in
// flight, so it is redelivered with its full item set once its visibility
// timeout expires.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sheiva/sheiva-cloud/internal/metrics"
	"github.com/sheiva/sheiva-cloud/internal/queue"
)

type Sender interface {
	Send(ctx context.Context, body string, attributes map[string]string) (string, error)
}

type Deleter interface {
	Delete(ctx context.Context, receiptHandle string) error
}

// DeadLetter is the single dead-letter entry for one source message.
type DeadLetter struct {
	Body       string
	Attributes map[string]string
}

// Plan is what to do with one source message once its items are processed.
type Plan struct {
	MessageID     string
	ReceiptHandle string
	// DeadLetter is nil when no item failed.
	DeadLetter *DeadLetter
}

// NewPlan builds the plan for msg. All failed items of the message are
// batched into one dead-letter entry carrying attributes, which should
// record where the output of those items belongs.
func NewPlan[I any](msg queue.RawMessage, failed []I, attributes map[string]string) (Plan, error) {
	plan := Plan{MessageID: msg.MessageID, ReceiptHandle: msg.ReceiptHandle}
	if len(failed) == 0 {
		return plan, nil
	}

	body, err := json.Marshal(failed)
	if err != nil {
		return Plan{}, fmt.Errorf("encoding failed items of %s: %w", msg.MessageID, err)
	}
	plan.DeadLetter = &DeadLetter{Body: string(body), Attributes: attributes}
	return plan, nil
}

type Reconciler struct {
	source     Deleter
	deadLetter Sender
	metrics    *metrics.Metrics
}

// New returns a reconciler. deadLetter may be nil, in which case plans with
// failures are rejected and their messages stay on the source queue.
func New(source Deleter, deadLetter Sender, m *metrics.Metrics) *Reconciler {
	return &Reconciler{source: source, deadLetter: deadLetter, metrics: m}
}

// ErrNoDeadLetterQueue is returned for a plan with failures when the
// reconciler has no dead-letter queue.
var ErrNoDeadLetterQueue = errors.New("no dead-letter queue configured")

// Reconcile applies plan: publish failures, then delete the source message.
// A delete of a message that is already gone counts as success.
func (r *Reconciler) Reconcile(ctx context.Context, plan Plan) error {
	l := log.With().Str("message_id", plan.MessageID).Logger()

	if plan.DeadLetter != nil {
		if r.deadLetter == nil {
			return fmt.Errorf("reconciling %s: %w", plan.MessageID, ErrNoDeadLetterQueue)
		}
		if _, err := r.deadLetter.Send(ctx, plan.DeadLetter.Body, plan.DeadLetter.Attributes); err != nil {
			l.Error().Err(err).Msg("Failed to publish to dead-letter queue, leaving message for redelivery")
			return fmt.Errorf("reconciling %s: %w", plan.MessageID, err)
		}
		r.metrics.DeadLettered()
		l.Info().Str("body", plan.DeadLetter.Body).Msg("Published failed items to dead-letter queue")
	}

	if err := r.source.Delete(ctx, plan.ReceiptHandle); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			l.Debug().Err(err).Msg("Message already deleted")
			return nil
		}
		l.Error().Err(err).Msg("Failed to delete message from source queue")
		return fmt.Errorf("reconciling %s: %w", plan.MessageID, err)
	}
	r.metrics.Deleted()
	l.Debug().Msg("Message deleted from source queue")
	return nil
}

// ReconcileAll applies every plan, continuing past failures, and returns the
// failures joined.
func (r *Reconciler) ReconcileAll(ctx context.Context, plans []Plan) error {
	var errs []error
	for _, plan := range plans {
		if err := r.Reconcile(ctx, plan); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
