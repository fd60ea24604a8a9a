package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastReachesPollClientsOnly(t *testing.T) {
	hub := startHub(t)
	a := &Client{PollID: "poll-a", send: make(chan []byte, 4)}
	b := &Client{PollID: "poll-b", send: make(chan []byte, 4)}
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	require.Eventually(t, func() bool { return hub.ClientCount("poll-a") == 1 && hub.ClientCount("poll-b") == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("poll-a", Message{Type: TypeVoteCast, PollID: "poll-a", Payload: map[string]int{"answer": 2}})

	select {
	case raw := <-a.send:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, TypeVoteCast, msg["type"])
		assert.Equal(t, "poll-a", msg["pollId"])
	case <-time.After(time.Second):
		t.Fatal("no message for poll-a client")
	}
	assert.Empty(t, b.send)
}

func TestHub_DropsSlowClients(t *testing.T) {
	hub := startHub(t)
	slow := &Client{PollID: "poll-a", send: make(chan []byte)}
	hub.RegisterClient(slow)
	require.Eventually(t, func() bool { return hub.ClientCount("poll-a") == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("poll-a", Message{Type: TypePollUpdated, PollID: "poll-a"})
	assert.Equal(t, 0, hub.ClientCount("poll-a"))

	_, open := <-slow.send
	assert.False(t, open)
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := startHub(t)
	c := &Client{PollID: "poll-a", send: make(chan []byte, 4)}
	hub.RegisterClient(c)
	require.Eventually(t, func() bool { return hub.ClientCount("poll-a") == 1 }, time.Second, 5*time.Millisecond)

	hub.Close("poll-a", Message{Type: TypePollDeleted, PollID: "poll-a"})
	assert.Equal(t, 0, hub.ClientCount("poll-a"))

	raw, ok := <-c.send
	require.True(t, ok)
	assert.Contains(t, string(raw), TypePollDeleted)
	_, ok = <-c.send
	assert.False(t, ok)

	// A late unregister from the read pump is harmless.
	hub.UnregisterClient(c)
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	live := &Client{PollID: "poll-a", send: make(chan []byte, 1)}
	hub.RegisterClient(live)
	require.Eventually(t, func() bool { return hub.ClientCount("poll-a") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped

	_, open := <-live.send
	assert.False(t, open, "shutdown closes connected clients")

	finished := make(chan struct{})
	late := &Client{PollID: "poll-a", send: make(chan []byte, 1)}
	go func() {
		hub.UnregisterClient(live)
		hub.RegisterClient(late)
		hub.UnregisterClient(late)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("register or unregister blocked after the hub stopped")
	}
	_, open = <-late.send
	assert.False(t, open)
	assert.Equal(t, 0, hub.ClientCount("poll-a"))
}
