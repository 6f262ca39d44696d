package handler

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/sheiva/sheiva-cloud/internal/message"
)

// CronTrigger starts a scrape round by asking the trigger handler for
// ItemsPerMessage links per age group.
type CronTrigger struct {
	Trigger         Sender
	ItemsPerMessage int
}

// HandleEvent serves scheduled invocations; the event itself is ignored.
func (c *CronTrigger) HandleEvent(ctx context.Context, _ events.CloudWatchEvent) error {
	_, err := c.Run(ctx)
	return err
}

func (c *CronTrigger) Run(ctx context.Context) (string, error) {
	body := message.EncodeTriggerRequest(message.TriggerRequest{Count: c.ItemsPerMessage})
	id, err := c.Trigger.Send(ctx, body, nil)
	if err != nil {
		return "", fmt.Errorf("sending scrape trigger: %w", err)
	}
	log.Info().Str("message_id", id).Int("count", c.ItemsPerMessage).Msg("Sent scrape trigger")
	return id, nil
}
