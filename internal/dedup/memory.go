package dedup

import (
	"context"
	"sync"
	"time"
)

type processedMessage struct {
	messageType string
	processedAt time.Time
}

// Memory lives as long as the process, which for a Lambda is one warm
// container.
type Memory struct {
	mu        sync.RWMutex
	processed map[string]processedMessage
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		processed: make(map[string]processedMessage),
		now:       time.Now,
	}
}

func (m *Memory) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.processed[messageID]
	return exists, nil
}

func (m *Memory) MarkProcessed(ctx context.Context, messageID, messageType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed == nil {
		return ErrClosed
	}
	if _, exists := m.processed[messageID]; exists {
		return nil
	}
	m.processed[messageID] = processedMessage{
		messageType: messageType,
		processedAt: m.now(),
	}
	return nil
}

func (m *Memory) Cleanup(ctx context.Context, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	for id, msg := range m.processed {
		if msg.processedAt.Before(cutoff) {
			delete(m.processed, id)
		}
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processed = nil
	return nil
}
