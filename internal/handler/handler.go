// Package handler implements the queue and schedule handlers of the workout
// pipeline. Every SQS handler follows the same protocol: decode each
// message, process its items independently, store the output, then
// acknowledge the message and dead-letter the items that failed.
//
// A message that is not acknowledged (undecodable, or cut off by the
// invocation deadline) is reported in the returned error wrapping
// ErrLeftOnQueue. The Lambda runtime deletes a whole batch when the handler
// returns nil, so such messages must surface as an error to be redelivered.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sheiva/sheiva-cloud/internal/dedup"
	"github.com/sheiva/sheiva-cloud/internal/message"
	"github.com/sheiva/sheiva-cloud/internal/scrape"
	"github.com/sheiva/sheiva-cloud/internal/transform"
)

// ErrLeftOnQueue marks a message deliberately left unacknowledged.
var ErrLeftOnQueue = errors.New("message left on queue for redelivery")

type Scraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Workout, error)
}

type Transformer interface {
	Parse(raw []byte) (map[string][]transform.Record, error)
}

type Sender interface {
	Send(ctx context.Context, body string, attributes map[string]string) (string, error)
}

// processingContext leaves reserve before the invocation deadline for
// storing and acknowledging the work already done. The reserve never takes
// more than half of the remaining time, so a short invocation still makes
// progress.
func processingContext(ctx context.Context, reserve time.Duration) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || reserve <= 0 {
		return context.WithCancel(ctx)
	}
	if remaining := time.Until(deadline); remaining > 0 {
		reserve = min(reserve, remaining/2)
	}
	return context.WithDeadline(ctx, deadline.Add(-reserve))
}

func malformedErrors(malformed []*message.MalformedError) []error {
	errs := make([]error, 0, len(malformed))
	for _, m := range malformed {
		errs = append(errs, fmt.Errorf("%w: %w", ErrLeftOnQueue, m))
	}
	return errs
}

func pendingError(messageID string, pending int) error {
	return fmt.Errorf("%w: %s has %d unfinished items", ErrLeftOnQueue, messageID, pending)
}

// alreadyProcessed treats a failing store as "not processed"; at worst the
// message is handled twice.
func alreadyProcessed(ctx context.Context, store dedup.Store, l zerolog.Logger, messageID string) bool {
	if store == nil {
		return false
	}
	processed, err := store.IsProcessed(ctx, messageID)
	if err != nil {
		l.Warn().Err(err).Msg("Deduplication check failed, processing message")
		return false
	}
	return processed
}

func markProcessed(ctx context.Context, store dedup.Store, l zerolog.Logger, messageID, messageType string) {
	if store == nil {
		return
	}
	if err := store.MarkProcessed(ctx, messageID, messageType); err != nil {
		l.Warn().Err(err).Msg("Failed to mark message as processed")
	}
}
