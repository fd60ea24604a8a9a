package mq

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a user directory cleanup that must follow a poll write.
type EventType string

const (
	// EventPollDeleted removes the poll from its creator's created set and
	// from every answered set.
	EventPollDeleted EventType = "poll.deleted"
	// EventPollCleared removes the poll from every answered set.
	EventPollCleared EventType = "poll.cleared"
)

// TopicCascadeEvents is the RocketMQ topic carrying CascadeEvent bodies.
const TopicCascadeEvents = "poll_cascade_events"

// CascadeEvent is published after the poll write commits. Handlers must be
// idempotent: every driver may deliver an event more than once.
type CascadeEvent struct {
	Type      EventType `json:"type"`
	PollID    string    `json:"poll_id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Voters    []string  `json:"voters,omitempty"`
	Timestamp int64     `json:"timestamp"`
	MessageID string    `json:"message_id"`
}

func NewCascadeEvent(typ EventType, pollID, ownerID string, voters []string) CascadeEvent {
	return CascadeEvent{
		Type:      typ,
		PollID:    pollID,
		OwnerID:   ownerID,
		Voters:    voters,
		Timestamp: time.Now().Unix(),
		MessageID: uuid.NewString(),
	}
}

// Handler applies one event.
type Handler func(ctx context.Context, event CascadeEvent) error

// Broker is implemented by each queue driver.
type Broker interface {
	Publish(ctx context.Context, event CascadeEvent) error
	Start(handler Handler) error
	Stop()
	Stats(ctx context.Context) map[string]interface{}
}
