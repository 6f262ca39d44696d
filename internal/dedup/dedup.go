// Package dedup remembers which queue messages were already handled so a
// redelivered message is acknowledged without redoing its work.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheiva/sheiva-cloud/internal/config"
)

// ErrClosed is returned when marking a message on a closed memory store.
var ErrClosed = errors.New("dedup: store closed")

// Store tracks processed messages by queue message ID.
type Store interface {
	// checks if a message has already been processed
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// records that a message has been processed
	MarkProcessed(ctx context.Context, messageID, messageType string) error

	// removes old entries to prevent unbounded growth
	Cleanup(ctx context.Context, olderThan time.Duration) error

	// releases any resources, could be a noop if not required
	Close() error
}

// Nop never reports a message as processed.
type Nop struct{}

func (Nop) IsProcessed(context.Context, string) (bool, error) { return false, nil }
func (Nop) MarkProcessed(context.Context, string, string) error { return nil }
func (Nop) Cleanup(context.Context, time.Duration) error { return nil }
func (Nop) Close() error { return nil }

// New builds the store selected by cfg.Type.
func New(ctx context.Context, cfg config.Dedup) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		return NewRedisAddr(ctx, cfg.RedisAddr, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown dedup store %q", cfg.Type)
	}
}
