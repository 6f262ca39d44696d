package app

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"
)

// Schedule calls run at every tick of the cron expression expr (UTC) until
// ctx is cancelled. Runs do not overlap; a tick missed while run is busy is
// skipped.
func Schedule(ctx context.Context, expr string, run func(context.Context) error) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}

	for {
		next, err := gronx.NextTickAfter(expr, time.Now().UTC(), false)
		if err != nil {
			return fmt.Errorf("computing next tick of %q: %w", expr, err)
		}
		log.Debug().Time("next", next).Msg("Waiting for next scheduled run")

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		if err := run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled run failed")
		}
	}
}
