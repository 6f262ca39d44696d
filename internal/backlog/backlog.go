// Package backlog drains a dead-letter queue to a file and replays saved
// entries onto a source queue.
package backlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sheiva/sheiva-cloud/internal/message"
	"github.com/sheiva/sheiva-cloud/internal/queue"
)

const receiveBatch = 10

// Entry is one saved dead-letter message: the URLs that failed and where
// their results belong.
type Entry struct {
	Body      []string `json:"body"`
	BucketKey string   `json:"bucket_key"`
}

type Receiver interface {
	Receive(ctx context.Context, maxMessages int32) ([]queue.RawMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type Sender interface {
	Send(ctx context.Context, body string, attributes map[string]string) (string, error)
}

// Save receives from dlq until it comes back empty and writes the decoded
// entries to w as a JSON array. Received messages stay invisible for the
// queue's visibility timeout, which is what ends the drain. With
// deleteAfter the messages are deleted once the file is written.
// Undecodable messages are skipped and never deleted.
func Save(ctx context.Context, dlq Receiver, w io.Writer, deleteAfter bool) (int, error) {
	entries := []Entry{}
	var receipts []string

	for {
		msgs, err := dlq.Receive(ctx, receiveBatch)
		if err != nil {
			return 0, err
		}
		if len(msgs) == 0 {
			break
		}
		log.Info().Int("count", len(msgs)).Msg("Received dead-letter messages")

		for _, raw := range msgs {
			p, err := message.Parse(raw, message.ParseScrapeRequest)
			if err != nil {
				log.Warn().Err(err).Str("message_id", raw.MessageID).Msg("Skipping undecodable dead-letter message")
				continue
			}
			entries = append(entries, Entry{Body: p.Payload.URLs, BucketKey: p.Payload.BucketKey})
			receipts = append(receipts, raw.ReceiptHandle)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return 0, fmt.Errorf("writing backlog: %w", err)
	}

	if deleteAfter {
		var errs []error
		for _, rh := range receipts {
			if err := dlq.Delete(ctx, rh); err != nil && !errors.Is(err, queue.ErrNotFound) {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return len(entries), err
		}
	}
	return len(entries), nil
}

// Load reads entries written by Save.
func Load(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("reading backlog: %w", err)
	}
	return entries, nil
}

// Result reports the replay of one entry.
type Result struct {
	Index     int
	BucketKey string
	URLs      int
	Duration  time.Duration
	Err       error
}

func (r Result) Success() bool { return r.Err == nil }

// Push sends every entry to q as a scrape request using concurrency
// workers. progress, if set, is called once per entry from the calling
// goroutine. Entries not sent because ctx was cancelled are not reported.
func Push(ctx context.Context, q Sender, entries []Entry, concurrency int, progress func(Result)) error {
	jobs := make(chan int, len(entries))
	results := make(chan Result, len(entries))

	var wg sync.WaitGroup
	for w := 0; w < max(1, concurrency); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case index, ok := <-jobs:
					if !ok {
						return
					}
					results <- send(ctx, q, index, entries[index])
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for i := range entries {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var failed int
	for r := range results {
		if !r.Success() {
			failed++
			log.Warn().Err(r.Err).Int("index", r.Index).Str("bucket_key", r.BucketKey).Msg("Failed to push backlog entry")
		}
		if progress != nil {
			progress(r)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d backlog entries not pushed", failed, len(entries))
	}
	return nil
}

func send(ctx context.Context, q Sender, index int, e Entry) Result {
	r := Result{Index: index, BucketKey: e.BucketKey, URLs: len(e.Body)}

	body, attrs, err := message.EncodeScrapeRequest(message.ScrapeRequest{URLs: e.Body, BucketKey: e.BucketKey})
	if err != nil {
		r.Err = err
		return r
	}

	start := time.Now()
	_, r.Err = q.Send(ctx, body, attrs)
	r.Duration = time.Since(start)
	return r
}

// Redrive moves every message on dlq back to source, body and attributes
// unchanged. Each message is deleted only after it was sent.
func Redrive(ctx context.Context, dlq Receiver, source Sender) (int, error) {
	var moved int
	for {
		msgs, err := dlq.Receive(ctx, receiveBatch)
		if err != nil {
			return moved, err
		}
		if len(msgs) == 0 {
			return moved, nil
		}

		for _, raw := range msgs {
			if _, err := source.Send(ctx, raw.Body, raw.Attributes); err != nil {
				return moved, fmt.Errorf("redriving %s: %w", raw.MessageID, err)
			}
			if err := dlq.Delete(ctx, raw.ReceiptHandle); err != nil && !errors.Is(err, queue.ErrNotFound) {
				return moved, fmt.Errorf("redriving %s: %w", raw.MessageID, err)
			}
			moved++
		}
		log.Info().Int("moved", moved).Msg("Redrove dead-letter messages")
	}
}
