package handler

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheiva/sheiva-cloud/internal/batch"
	"github.com/sheiva/sheiva-cloud/internal/message"
	"github.com/sheiva/sheiva-cloud/internal/queue"
	"github.com/sheiva/sheiva-cloud/internal/queue/queuetest"
	"github.com/sheiva/sheiva-cloud/internal/reconcile"
	"github.com/sheiva/sheiva-cloud/internal/storage"
	"github.com/sheiva/sheiva-cloud/internal/storage/storagetest"
	"github.com/sheiva/sheiva-cloud/internal/transform"
)

const (
	scrapedA = "workout-data/male/18-25/0b7e3f7a-4c1e-4f55-9a57-7f1f8d3c2a11.json"
	scrapedB = "workout-data/male/26-35/5d2c9a10-1a3b-4e0c-8d9e-2f6a7b8c9d01.json"
	scrapedC = "workout-data/female/18-25/9f8e7d6c-5b4a-4392-8170-6f5e4d3c2b1a.json"
)

const scrapedFile = `[{"url": "https://e.com/1", "title": "Legs", "sections": [{"heading": "Main", "lines": ["squat", "lunge"]}]}]`

func TestTransformTriggerCandidates(t *testing.T) {
	bucket := storagetest.New()
	bucket.Set(scrapedA, []byte(scrapedFile))
	bucket.Set(scrapedB, []byte(scrapedFile))
	bucket.Set(scrapedC, []byte(scrapedFile))
	// B has been transformed; C only partially, which does not count
	bucket.Set("transformed/workout-data/workouts/5d2c9a10-1a3b-4e0c-8d9e-2f6a7b8c9d01.csv", []byte("url\n"))
	bucket.Set("transformed/workout-data/lines/9f8e7d6c-5b4a-4392-8170-6f5e4d3c2b1a.csv", []byte("url\n"))

	q := queuetest.New("https://sqs/transform")
	tt := &TransformTrigger{
		Sink:              storage.New(bucket, "sheiva-scrape", nil),
		Queue:             q,
		Limit:             10,
		ScrapedPrefix:     "workout-data",
		TransformedPrefix: "transformed/workout-data",
	}

	candidates, err := tt.Candidates(context.Background())
	require.NoError(t, err)
	sort.Strings(candidates)
	assert.Equal(t, []string{scrapedC, scrapedA}, candidates)

	sent, err := tt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	var inputs []string
	for _, s := range q.Sent() {
		req, err := message.ParseTransformRequest(queue.RawMessage{Body: s.Body, Attributes: s.Attributes})
		require.NoError(t, err)
		assert.Equal(t, "transformed/workout-data", req.OutputKey)
		inputs = append(inputs, req.InputKey)
	}
	sort.Strings(inputs)
	assert.Equal(t, []string{scrapedC, scrapedA}, inputs)
}

func TestTransformTriggerLimit(t *testing.T) {
	bucket := storagetest.New()
	bucket.Set(scrapedA, []byte(scrapedFile))
	bucket.Set(scrapedB, []byte(scrapedFile))
	bucket.Set(scrapedC, []byte(scrapedFile))

	q := queuetest.New("https://sqs/transform")
	shuffled := false
	tt := &TransformTrigger{
		Sink:              storage.New(bucket, "sheiva-scrape", nil),
		Queue:             q,
		Limit:             2,
		ScrapedPrefix:     "workout-data",
		TransformedPrefix: "transformed/workout-data",
		shuffle: func(n int, swap func(i, j int)) {
			shuffled = true
			swap(0, n-1)
		},
	}

	sent, err := tt.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, shuffled)
	assert.Equal(t, 2, sent)
	assert.Len(t, q.Sent(), 2)
}

type transformFixture struct {
	source  *queuetest.Fake
	dlq     *queuetest.Fake
	bucket  *storagetest.Fake
	handler *TransformHandler
}

func newTransformFixture() *transformFixture {
	f := &transformFixture{
		source: queuetest.New("https://sqs/transform"),
		dlq:    queuetest.New("https://sqs/transform-dlq"),
		bucket: storagetest.New(),
	}
	f.handler = &TransformHandler{
		Transformer: transform.WorkoutTree{},
		Sink:        storage.New(f.bucket, "sheiva-scrape", nil),
		Reconciler:  reconcile.New(f.source, f.dlq, nil),
		Processor:   batch.Processor{Concurrency: 2},
	}
	return f
}

func (f *transformFixture) deliver(t *testing.T, inputKey string) queue.RawMessage {
	t.Helper()
	body, attrs := message.EncodeTransformRequest(message.TransformRequest{InputKey: inputKey, OutputKey: "transformed/workout-data"})
	_, err := f.source.Send(context.Background(), body, attrs)
	require.NoError(t, err)
	msgs, err := f.source.Receive(context.Background(), 1)
	require.NoError(t, err)
	return msgs[0]
}

func TestTransformHandler(t *testing.T) {
	f := newTransformFixture()
	f.bucket.Set(scrapedA, []byte(scrapedFile))
	f.bucket.Set(scrapedB, []byte(`not json`))
	good := f.deliver(t, scrapedA)
	bad := f.deliver(t, scrapedB)
	missing := f.deliver(t, "workout-data/male/18-25/gone.json")

	require.NoError(t, f.handler.Handle(context.Background(), []queue.RawMessage{good, bad, missing}))

	assert.Equal(t, []string{
		"transformed/workout-data/lines/0b7e3f7a-4c1e-4f55-9a57-7f1f8d3c2a11.csv",
		"transformed/workout-data/sections/0b7e3f7a-4c1e-4f55-9a57-7f1f8d3c2a11.csv",
		"transformed/workout-data/workouts/0b7e3f7a-4c1e-4f55-9a57-7f1f8d3c2a11.csv",
	}, f.bucket.Keys("transformed/"))
	lines, _ := f.bucket.Object("transformed/workout-data/lines/0b7e3f7a-4c1e-4f55-9a57-7f1f8d3c2a11.csv")
	assert.Equal(t, "url,line,section,text\nhttps://e.com/1,0,0,squat\nhttps://e.com/1,1,0,lunge\n", string(lines))

	deleted := f.source.Deleted()
	sort.Strings(deleted)
	assert.Equal(t, []string{good.ReceiptHandle, bad.ReceiptHandle, missing.ReceiptHandle}, deleted)

	sent := f.dlq.Sent()
	require.Len(t, sent, 2)
	var bodies []string
	for _, s := range sent {
		bodies = append(bodies, s.Body)
		assert.Equal(t, "transformed/workout-data", s.Attributes[message.AttrOutputKey])
	}
	assert.ElementsMatch(t, []string{`["` + scrapedB + `"]`, `["workout-data/male/18-25/gone.json"]`}, bodies)
}

func TestTransformHandlerWithoutDeadLetterQueue(t *testing.T) {
	f := newTransformFixture()
	f.handler.Reconciler = reconcile.New(f.source, nil, nil)
	msg := f.deliver(t, "workout-data/male/18-25/gone.json")

	err := f.handler.Handle(context.Background(), []queue.RawMessage{msg})

	require.ErrorIs(t, err, reconcile.ErrNoDeadLetterQueue)
	assert.True(t, f.source.InFlight(msg.ReceiptHandle))
}

func TestTransformHandlerStorageFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*storagetest.Fake)
	}{
		{
			name:  "throttled read",
			setup: func(b *storagetest.Fake) { b.GetErr = errors.New("SlowDown: please reduce your request rate") },
		},
		{
			name:  "failed write",
			setup: func(b *storagetest.Fake) { b.PutErr = errors.New("InternalError: we encountered an internal error") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTransformFixture()
			f.bucket.Set(scrapedA, []byte(scrapedFile))
			tt.setup(f.bucket)
			msg := f.deliver(t, scrapedA)

			err := f.handler.Handle(context.Background(), []queue.RawMessage{msg})

			require.ErrorIs(t, err, ErrLeftOnQueue)
			var sErr *storage.Error
			assert.ErrorAs(t, err, &sErr)
			assert.Empty(t, f.dlq.Sent())
			assert.Empty(t, f.source.Deleted())
			assert.True(t, f.source.InFlight(msg.ReceiptHandle))
		})
	}
}
