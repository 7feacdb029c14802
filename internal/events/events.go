package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/models"
)

const SessionTopic = "chat.sessions"

type Type string

const (
	SessionCreated  Type = "session.created"
	MessageAppended Type = "message.appended"
	SessionRenamed  Type = "session.renamed"
)

// Event describes a change to a session. Only the owner receives it.
type Event struct {
	Type      Type            `json:"type"`
	OwnerID   string          `json:"owner_id"`
	SessionID string          `json:"session_id"`
	Name      string          `json:"name,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	At        time.Time       `json:"at"`
}

// Bus is an in-process pub/sub for session events.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		NewWatermillLogger(logger),
	)
	return &Bus{pubSub: pubSub, logger: logger}
}

func (b *Bus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("owner_id", event.OwnerID)
	msg.Metadata.Set("type", string(event.Type))

	if err := b.pubSub.Publish(SessionTopic, msg); err != nil {
		return fmt.Errorf("error publishing event: %w", err)
	}
	return nil
}

// Subscribe streams decoded events until ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, SessionTopic)
	if err != nil {
		return nil, fmt.Errorf("error subscribing to %s: %w", SessionTopic, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.Error("Failed to decode event", zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
