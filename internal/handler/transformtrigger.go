package handler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sheiva/sheiva-cloud/internal/logging"
	"github.com/sheiva/sheiva-cloud/internal/message"
	"github.com/sheiva/sheiva-cloud/internal/storage"
	"github.com/sheiva/sheiva-cloud/internal/transform"
)

// TransformTrigger queues scraped files that have not been transformed yet.
// A file counts as transformed once its workouts table exists; the table
// carries the same uuid file name as the scraped file.
type TransformTrigger struct {
	Sink  *storage.Sink
	Queue Sender
	// Limit caps how many files are queued per run; candidates beyond it
	// are sampled at random.
	Limit             int
	ScrapedPrefix     string
	TransformedPrefix string

	shuffle func(n int, swap func(i, j int))
}

func (t *TransformTrigger) HandleEvent(ctx context.Context, _ events.CloudWatchEvent) error {
	_, err := t.Run(ctx)
	return err
}

// Candidates lists scraped files without a transformed counterpart.
func (t *TransformTrigger) Candidates(ctx context.Context) ([]string, error) {
	transformed := make(map[string]bool)
	for key, err := range t.Sink.List(ctx, path.Join(t.TransformedPrefix, transform.Workouts)+"/", ".csv") {
		if err != nil {
			return nil, err
		}
		transformed[storage.Stem(key)] = true
	}

	var candidates []string
	for key, err := range t.Sink.List(ctx, t.ScrapedPrefix+"/", ".json") {
		if err != nil {
			return nil, err
		}
		if !transformed[storage.Stem(key)] {
			candidates = append(candidates, key)
		}
	}
	return candidates, nil
}

// Run queues up to Limit candidates and returns how many were queued.
func (t *TransformTrigger) Run(ctx context.Context) (int, error) {
	l := logging.Invocation("transform-trigger")

	candidates, err := t.Candidates(ctx)
	if err != nil {
		return 0, err
	}
	l.Info().Int("candidates", len(candidates)).Msg("Found untransformed files")

	if t.Limit > 0 && len(candidates) > t.Limit {
		shuffle := t.shuffle
		if shuffle == nil {
			shuffle = rand.Shuffle
		}
		shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:t.Limit]
	}

	var (
		sent int
		errs []error
	)
	for _, key := range candidates {
		body, attrs := message.EncodeTransformRequest(message.TransformRequest{
			InputKey:  key,
			OutputKey: t.TransformedPrefix,
		})
		if _, err := t.Queue.Send(ctx, body, attrs); err != nil {
			errs = append(errs, fmt.Errorf("queueing %s: %w", key, err))
			continue
		}
		sent++
	}
	l.Info().Int("sent", sent).Msg("Queued files for transform")
	return sent, errors.Join(errs...)
}
