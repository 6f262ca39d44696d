package backlog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheiva/sheiva-cloud/internal/queue/queuetest"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func fillDeadLetters(t *testing.T, q *queuetest.Fake) {
	t.Helper()
	ctx := context.Background()
	_, err := q.Send(ctx, `["https://e.com/1","https://e.com/2"]`, map[string]string{"bucket_key": "workout-data/male/18-25"})
	require.NoError(t, err)
	_, err = q.Send(ctx, `["https://e.com/3"]`, nil)
	require.NoError(t, err)
	_, err = q.Send(ctx, `["https://e.com/4"]`, map[string]string{"bucket_key": "workout-data/female/26-35"})
	require.NoError(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	dlq := queuetest.New("https://sqs/dlq")
	fillDeadLetters(t, dlq)

	var buf bytes.Buffer
	n, err := Save(context.Background(), dlq, &buf, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Body: []string{"https://e.com/1", "https://e.com/2"}, BucketKey: "workout-data/male/18-25"},
		{Body: []string{"https://e.com/4"}, BucketKey: "workout-data/female/26-35"},
	}, entries)

	assert.Equal(t, []string{"rh-msg-1", "rh-msg-3"}, dlq.Deleted())
	assert.True(t, dlq.InFlight("rh-msg-2"), "undecodable message is kept")
}

func TestSaveWithoutDelete(t *testing.T) {
	dlq := queuetest.New("https://sqs/dlq")
	fillDeadLetters(t, dlq)

	var buf bytes.Buffer
	_, err := Save(context.Background(), dlq, &buf, false)
	require.NoError(t, err)
	assert.Empty(t, dlq.Deleted())
}

func TestSaveEmptyQueue(t *testing.T) {
	var buf bytes.Buffer
	n, err := Save(context.Background(), queuetest.New("https://sqs/dlq"), &buf, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.JSONEq(t, `[]`, buf.String())
}

func TestPush(t *testing.T) {
	q := queuetest.New("https://sqs/links")
	entries := []Entry{
		{Body: []string{"https://e.com/1"}, BucketKey: "workout-data/male/18-25"},
		{Body: []string{"https://e.com/2", "https://e.com/3"}, BucketKey: "workout-data/male/26-35"},
		{Body: []string{"https://e.com/4"}, BucketKey: "workout-data/female/18-25"},
	}

	var results []Result
	require.NoError(t, Push(context.Background(), q, entries, 2, func(r Result) {
		results = append(results, r)
	}))

	require.Len(t, results, 3)
	var urls int
	for _, r := range results {
		assert.True(t, r.Success())
		urls += r.URLs
	}
	assert.Equal(t, 4, urls)

	var keys []string
	for _, s := range q.Sent() {
		keys = append(keys, s.Attributes["bucket_key"])
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"workout-data/female/18-25", "workout-data/male/18-25", "workout-data/male/26-35"}, keys)
}

func TestPushFailures(t *testing.T) {
	q := queuetest.New("https://sqs/links")
	q.SendErr = errors.New("throttled")

	var failed int
	err := Push(context.Background(), q, []Entry{{Body: []string{"u"}, BucketKey: "k"}}, 4, func(r Result) {
		if !r.Success() {
			failed++
		}
	})
	assert.EqualError(t, err, "1 of 1 backlog entries not pushed")
	assert.Equal(t, 1, failed)
}

func TestRedrive(t *testing.T) {
	dlq := queuetest.New("https://sqs/dlq")
	fillDeadLetters(t, dlq)
	source := queuetest.New("https://sqs/links")

	moved, err := Redrive(context.Background(), dlq, source)
	require.NoError(t, err)
	assert.Equal(t, 3, moved)
	assert.Len(t, dlq.Deleted(), 3)

	sent := source.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, `["https://e.com/1","https://e.com/2"]`, sent[0].Body)
	assert.Equal(t, "workout-data/male/18-25", sent[0].Attributes["bucket_key"])
}

func TestRedriveSendFailureKeepsMessage(t *testing.T) {
	dlq := queuetest.New("https://sqs/dlq")
	fillDeadLetters(t, dlq)
	source := queuetest.New("https://sqs/links")
	source.SendErr = errors.New("throttled")

	moved, err := Redrive(context.Background(), dlq, source)
	require.Error(t, err)
	assert.Zero(t, moved)
	assert.Empty(t, dlq.Deleted())
}
