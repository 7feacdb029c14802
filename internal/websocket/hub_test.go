package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/medichat/internal/events"
)

func startHub(t *testing.T) (*Hub, chan events.Event, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	stream := make(chan events.Event)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx, stream)
	t.Cleanup(cancel)
	return hub, stream, cancel
}

func receive(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var e events.Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return events.Event{}
	}
}

func TestHubDeliversOnlyToOwner(t *testing.T) {
	hub, stream, _ := startHub(t)

	alice := &Client{hub: hub, OwnerID: "alice", Send: make(chan []byte, 4)}
	bob := &Client{hub: hub, OwnerID: "bob", Send: make(chan []byte, 4)}
	require.True(t, hub.join(alice))
	require.True(t, hub.join(bob))

	stream <- events.Event{Type: events.SessionRenamed, OwnerID: "alice", SessionID: "s1", Name: "Migraine"}
	stream <- events.Event{Type: events.SessionCreated, OwnerID: "bob", SessionID: "s2"}

	got := receive(t, alice)
	assert.Equal(t, events.SessionRenamed, got.Type)
	assert.Equal(t, "Migraine", got.Name)

	got = receive(t, bob)
	assert.Equal(t, "s2", got.SessionID)
	assert.Empty(t, alice.Send)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub, _, _ := startHub(t)

	c := &Client{hub: hub, OwnerID: "alice", Send: make(chan []byte, 1)}
	require.True(t, hub.join(c))
	assert.Equal(t, 1, hub.Connected("alice"))

	hub.leave(c)
	_, open := <-c.Send
	assert.False(t, open)
	assert.Equal(t, 0, hub.Connected("alice"))
}

func TestHubStopsWithContext(t *testing.T) {
	hub, _, cancel := startHub(t)
	c := &Client{hub: hub, OwnerID: "alice", Send: make(chan []byte, 1)}
	require.True(t, hub.join(c))

	cancel()
	<-hub.done
	_, open := <-c.Send
	assert.False(t, open)
	assert.False(t, hub.join(&Client{hub: hub, OwnerID: "bob", Send: make(chan []byte, 1)}))
}
