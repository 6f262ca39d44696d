// Package queuetest provides an in-memory queue for tests.
package queuetest

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/sheiva/sheiva-cloud/internal/queue"
)

// Sent records one Send call.
type Sent struct {
	Body       string
	Attributes map[string]string
}

// Fake behaves like a standard queue with an infinite visibility timeout:
// a received message stays in flight until deleted. Deleting an unknown or
// already-deleted receipt handle fails with queue.ErrNotFound.
type Fake struct {
	URL string

	// SendErr and DeleteErr, when set, are returned instead of performing
	// the operation.
	SendErr   error
	DeleteErr error

	mu       sync.Mutex
	seq      int
	sent     []Sent
	ready    []queue.RawMessage
	inFlight map[string]queue.RawMessage
	deleted  []string
}

func New(url string) *Fake {
	return &Fake{URL: url, inFlight: make(map[string]queue.RawMessage)}
}

// Deliver puts msg in flight as if it had just been received, so it can be
// deleted by its receipt handle.
func (f *Fake) Deliver(msg queue.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[msg.ReceiptHandle] = msg
}

func (f *Fake) Send(ctx context.Context, body string, attributes map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendErr != nil {
		return "", &queue.Error{Op: "send", QueueURL: f.URL, Err: f.SendErr}
	}
	f.seq++
	id := fmt.Sprintf("msg-%d", f.seq)
	f.sent = append(f.sent, Sent{Body: body, Attributes: maps.Clone(attributes)})
	f.ready = append(f.ready, queue.RawMessage{
		MessageID:     id,
		ReceiptHandle: "rh-" + id,
		Body:          body,
		Attributes:    maps.Clone(attributes),
	})
	return id, nil
}

func (f *Fake) Receive(ctx context.Context, maxMessages int32) ([]queue.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := min(int(maxMessages), len(f.ready))
	out := f.ready[:n:n]
	f.ready = f.ready[n:]
	for _, m := range out {
		f.inFlight[m.ReceiptHandle] = m
	}
	return out, nil
}

func (f *Fake) Delete(ctx context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DeleteErr != nil {
		return &queue.Error{Op: "delete", QueueURL: f.URL, Err: f.DeleteErr}
	}
	if _, ok := f.inFlight[receiptHandle]; !ok {
		return &queue.Error{Op: "delete", QueueURL: f.URL, Err: queue.ErrNotFound}
	}
	delete(f.inFlight, receiptHandle)
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func (f *Fake) Purge(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = nil
	f.inFlight = make(map[string]queue.RawMessage)
	return nil
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// InFlight reports whether receiptHandle is still awaiting deletion.
func (f *Fake) InFlight(receiptHandle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.inFlight[receiptHandle]
	return ok
}
