package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/medichat/internal/models"
)

func TestBusDeliversEvents(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	t.Cleanup(func() { bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	sent := Event{
		Type:      MessageAppended,
		OwnerID:   "alice",
		SessionID: "s1",
		Message:   &models.Message{ID: "m1", SessionID: "s1", Text: "hi", Sender: models.SenderUser, Timestamp: at},
		At:        at,
	}
	require.NoError(t, bus.Publish(ctx, sent))

	select {
	case got := <-events:
		assert.Equal(t, sent.Type, got.Type)
		assert.Equal(t, "alice", got.OwnerID)
		require.NotNil(t, got.Message)
		assert.Equal(t, "hi", got.Message.Text)
		assert.True(t, got.At.Equal(at))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	t.Cleanup(func() { bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}
