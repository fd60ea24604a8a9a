// Package websocket pushes poll changes to the owner's open live feeds.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Message types sent on the live feed.
const (
	TypeSnapshot         = "SNAPSHOT"
	TypePollUpdated      = "POLL_UPDATED"
	TypeVoteCast         = "VOTE_CAST"
	TypeResponsesCleared = "RESPONSES_CLEARED"
	TypePollDeleted      = "POLL_DELETED"
)

// Message is one live feed frame.
type Message struct {
	Type    string      `json:"type"`
	PollID  string      `json:"pollId"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client is one live feed connection.
type Client struct {
	PollID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks live feed clients per poll.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then drops every client.
// Registrations arriving after that are refused.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.PollID]; !ok {
				h.clients[client.PollID] = make(map[*Client]bool)
			}
			h.clients[client.PollID][client] = true
			n := len(h.clients[client.PollID])
			h.mu.Unlock()
			log.Debug().Str("poll", client.PollID).Int("clients", n).Msg("live feed client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			log.Debug().Str("poll", client.PollID).Msg("live feed client unregistered")

		case <-ctx.Done():
			h.mu.Lock()
			for pollID, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, pollID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// removeLocked drops client if still registered. Callers hold mu.
func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.PollID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.PollID)
	}
}

// Broadcast sends message to every client of pollID. Clients whose buffer
// is full are dropped.
func (h *Hub) Broadcast(pollID string, message Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("poll", pollID).Msg("could not encode live feed message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.clients[pollID]
	for client := range clients {
		select {
		case client.send <- payload:
		default:
			h.removeLocked(client)
		}
	}
	if len(clients) > 0 {
		log.Debug().Str("poll", pollID).Str("type", message.Type).Int("clients", len(clients)).Msg("live feed broadcast")
	}
}

// Close sends message to the poll's clients and disconnects them.
func (h *Hub) Close(pollID string, message Message) {
	h.Broadcast(pollID, message)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[pollID] {
		h.removeLocked(client)
	}
}

// ClientCount reports how many clients follow pollID.
func (h *Hub) ClientCount(pollID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[pollID])
}

// RegisterClient adds client. Once the hub has stopped the client's send
// channel is closed instead, which ends its write pump.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient removes client; it returns immediately once the hub has stopped.
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
