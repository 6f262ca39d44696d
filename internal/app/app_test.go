package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheiva/sheiva-cloud/internal/config"
	"github.com/sheiva/sheiva-cloud/internal/dedup"
	"github.com/sheiva/sheiva-cloud/internal/queue"
	"github.com/sheiva/sheiva-cloud/internal/reconcile"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestNewClientsWithEndpoint(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	clients, err := NewClients(context.Background(), config.Common{AWSRegion: "eu-west-2", AWSEndpoint: "http://localhost:4566"})
	require.NoError(t, err)
	assert.NotNil(t, clients.SQS)
	assert.NotNil(t, clients.S3)
	assert.Equal(t, "https://sqs/links", clients.Queue("https://sqs/links").URL())
}

// receiveRecorder records the last ReceiveMessage input; every other SQS
// call panics.
type receiveRecorder struct {
	queue.API
	input *sqs.ReceiveMessageInput
}

func (r *receiveRecorder) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	r.input = params
	return &sqs.ReceiveMessageOutput{}, nil
}

func TestPollQueueLongPolls(t *testing.T) {
	rec := &receiveRecorder{}
	clients := Clients{SQS: rec}

	_, err := clients.PollQueue("https://sqs/links").Receive(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, rec.input)
	assert.Equal(t, int32(20), rec.input.WaitTimeSeconds)

	_, err = clients.Queue("https://sqs/links").Receive(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, rec.input.WaitTimeSeconds)
}

func TestDeadLetterOptional(t *testing.T) {
	clients := Clients{SQS: nil}
	assert.Nil(t, clients.deadLetter(""))
	assert.NotNil(t, clients.deadLetter("https://sqs/dlq"))
}

func TestNewScrapeHandler(t *testing.T) {
	cfg, err := config.LoadFrom[config.Scraper](map[string]string{
		"MAIN_QUEUE":           "https://sqs/links",
		"DEADLETTER_QUEUE_URL": "https://sqs/links-dlq",
		"BUCKET":               "sheiva-scrape",
		"DEDUP_TYPE":           "memory",
	})
	require.NoError(t, err)

	h, store, err := NewScrapeHandler(context.Background(), cfg, Clients{}, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &dedup.Memory{}, store)
	assert.Equal(t, 10, h.Processor.Concurrency)
	assert.Equal(t, 5*time.Second, h.Reserve)
	assert.Equal(t, "sheiva-scrape", h.Sink.Bucket())
}

func TestNewTransformHandlerWithoutDeadLetterQueue(t *testing.T) {
	cfg, err := config.LoadFrom[config.Transformer](map[string]string{
		"WORKOUT_FILE_TRANSFORM_QUEUE_URL": "https://sqs/transform",
		"BUCKET":                           "sheiva-scrape",
	})
	require.NoError(t, err)

	h := NewTransformHandler(cfg, Clients{}, nil)
	plan, err := reconcile.NewPlan(queue.RawMessage{MessageID: "m-1", ReceiptHandle: "rh-1"}, []string{"in.json"}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, h.Reconciler.Reconcile(context.Background(), plan), reconcile.ErrNoDeadLetterQueue)
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	err := Schedule(context.Background(), "not a cron", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestScheduleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	require.NoError(t, Schedule(ctx, "0 0 1 1 *", func(context.Context) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}
