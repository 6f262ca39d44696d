// Package poller runs a queue handler outside Lambda by long-polling its
// source queue.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sheiva/sheiva-cloud/internal/dedup"
	"github.com/sheiva/sheiva-cloud/internal/queue"
)

const maxMessages = 10

type Handler interface {
	Handle(ctx context.Context, raws []queue.RawMessage) error
}

// Source is satisfied by *queue.Client, which should long-poll (see
// queue.Client.WithWaitTime).
type Source interface {
	Receive(ctx context.Context, maxMessages int32) ([]queue.RawMessage, error)
	ExtendVisibility(ctx context.Context, receiptHandle string, seconds int32) error
	Stats(ctx context.Context) (queue.Stats, error)
}

type Config struct {
	// BatchTimeout bounds the handling of one received batch, like a Lambda
	// invocation timeout. Without heartbeats it should stay below the
	// queue's visibility timeout.
	BatchTimeout  time.Duration
	ErrorBackoff  time.Duration
	StatsInterval time.Duration

	// IdleBackoff is the least time between two receives that came back
	// empty, in case the source does not long-poll.
	IdleBackoff time.Duration

	// Every HeartbeatInterval while a batch is handled, its messages are
	// hidden for another VisibilityExtension.
	HeartbeatInterval   time.Duration
	VisibilityExtension time.Duration

	// Dedup, when set, is cleaned every CleanupInterval of entries older
	// than DedupTTL.
	Dedup           dedup.Store
	DedupTTL        time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchTimeout:        5 * time.Minute,
		ErrorBackoff:        5 * time.Second,
		StatsInterval:       10 * time.Second,
		IdleBackoff:         time.Second,
		HeartbeatInterval:   20 * time.Second,
		VisibilityExtension: time.Minute,
		DedupTTL:            7 * 24 * time.Hour,
		CleanupInterval:     time.Hour,
	}
}

type Poller struct {
	name    string
	source  Source
	handler Handler
	config  Config
}

func New(name string, source Source, handler Handler, config Config) *Poller {
	return &Poller{name: name, source: source, handler: handler, config: config}
}

// Run polls until ctx is cancelled. A batch being handled when ctx is
// cancelled is abandoned to its visibility timeout.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Str("handler", p.name).Msg("Starting queue poller")

	if p.config.StatsInterval > 0 {
		go p.monitorQueueStats(ctx)
	}
	if p.config.Dedup != nil && p.config.CleanupInterval > 0 {
		go p.cleanupDeduplicationStore(ctx)
	}

	for {
		if ctx.Err() != nil {
			log.Info().Str("handler", p.name).Msg("Queue poller stopped")
			return nil
		}

		start := time.Now()
		msgs, err := p.source.Receive(ctx, maxMessages)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			log.Error().Err(err).Msg("Failed to receive messages")
			sleep(ctx, p.config.ErrorBackoff)
			continue
		}
		if len(msgs) == 0 {
			if idle := p.config.IdleBackoff - time.Since(start); idle > 0 {
				sleep(ctx, idle)
			}
			continue
		}

		log.Debug().Int("count", len(msgs)).Msg("Received messages")
		p.handle(ctx, msgs)
	}
}

func (p *Poller) handle(ctx context.Context, msgs []queue.RawMessage) {
	batchCtx, cancel := context.WithTimeout(ctx, p.config.BatchTimeout)
	defer cancel()

	if p.config.HeartbeatInterval > 0 && p.config.VisibilityExtension > 0 {
		heartbeatCtx, stop := context.WithCancel(batchCtx)
		defer stop()
		go p.extendVisibility(heartbeatCtx, msgs)
	}

	start := time.Now()
	if err := p.handler.Handle(batchCtx, msgs); err != nil {
		log.Warn().Err(err).Str("handler", p.name).Msg("Batch not fully handled, unacknowledged messages will be redelivered")
	}
	log.Debug().Str("handler", p.name).Dur("duration", time.Since(start)).Int("count", len(msgs)).Msg("Batch handled")
}

// extendVisibility keeps msgs hidden from other consumers until ctx is
// done. Messages the handler already deleted are skipped from then on.
func (p *Poller) extendVisibility(ctx context.Context, msgs []queue.RawMessage) {
	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	seconds := int32(p.config.VisibilityExtension / time.Second)
	pending := append([]queue.RawMessage(nil), msgs...)
	for {
		select {
		case <-ticker.C:
			kept := pending[:0]
			for _, m := range pending {
				err := p.source.ExtendVisibility(ctx, m.ReceiptHandle, seconds)
				switch {
				case err == nil:
					log.Debug().Str("message_id", m.MessageID).Int32("seconds", seconds).Msg("Extended message visibility timeout")
				case ctx.Err() != nil:
					return
				case errors.Is(err, queue.ErrNotFound):
					// acknowledged
					continue
				default:
					log.Error().Err(err).Str("message_id", m.MessageID).Msg("Failed to extend visibility timeout")
				}
				kept = append(kept, m)
			}
			pending = kept
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) monitorQueueStats(ctx context.Context) {
	ticker := time.NewTicker(p.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.logQueueStats(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) logQueueStats(ctx context.Context) {
	stats, err := p.source.Stats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch queue stats")
		return
	}

	log.Info().
		Int("available", stats.Available).
		Int("in_flight", stats.InFlight).
		Int("delayed", stats.Delayed).
		Msg("SQS queue stats")
}

func (p *Poller) cleanupDeduplicationStore(ctx context.Context) {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.config.Dedup.Cleanup(ctx, p.config.DedupTTL); err != nil {
				log.Error().Err(err).Msg("Failed to cleanup deduplication store")
			} else {
				log.Debug().Msg("Cleaned up old deduplication entries")
			}
		case <-ctx.Done():
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
