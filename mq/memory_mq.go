package mq

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryMQ runs the handler inline during Publish, retrying up to
// maxRetries times. Events that still fail are kept as dead letters.
type MemoryMQ struct {
	mu          sync.Mutex
	handler     Handler
	maxRetries  int
	deadLetters []CascadeEvent
	delivered   int64
}

func NewMemoryMQ(maxRetries int) *MemoryMQ {
	return &MemoryMQ{maxRetries: maxRetries}
}

func (m *MemoryMQ) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("memory mq: handler is nil")
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *MemoryMQ) Publish(ctx context.Context, event CascadeEvent) error {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("memory mq: no handler registered")
	}

	var err error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if err = handler(ctx, event); err == nil {
			m.mu.Lock()
			m.delivered++
			m.mu.Unlock()
			return nil
		}
		log.Warn().Err(err).
			Str("event", string(event.Type)).
			Str("message_id", event.MessageID).
			Int("attempt", attempt+1).
			Msg("cascade event failed")
	}

	m.mu.Lock()
	m.deadLetters = append(m.deadLetters, event)
	m.mu.Unlock()
	return fmt.Errorf("cascade event %s dead-lettered: %w", event.MessageID, err)
}

func (m *MemoryMQ) Stop() {}

// DeadLetters returns a copy of the events that exhausted their retries.
func (m *MemoryMQ) DeadLetters() []CascadeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CascadeEvent(nil), m.deadLetters...)
}

func (m *MemoryMQ) Stats(context.Context) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"delivered":         m.delivered,
		"dead_letter_queue": len(m.deadLetters),
	}
}
