package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/events"
)

// Hub fans session events out to the websocket clients of their owner.
type Hub struct {
	// owner id -> connected clients (one per device)
	clients map[string][]*Client
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	// done is closed when Run returns
	done chan struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and delivers events until ctx is done or the
// event stream closes.
func (h *Hub) Run(ctx context.Context, stream <-chan events.Event) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.OwnerID] = append(h.clients[client.OwnerID], client)
			h.mu.Unlock()
			h.logger.Debug("Websocket client registered", zap.String("owner_id", client.OwnerID))
		case client := <-h.unregister:
			h.remove(client)
		case event, ok := <-stream:
			if !ok {
				h.closeAll()
				return
			}
			h.deliver(event)
		}
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Connected reports how many clients the owner has open.
func (h *Hub) Connected(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

func (h *Hub) deliver(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[event.OwnerID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Client send buffer full, dropping client", zap.String("owner_id", client.OwnerID))
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.OwnerID]
	for i, c := range clients {
		if c == client {
			h.clients[client.OwnerID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.OwnerID]) == 0 {
		delete(h.clients, client.OwnerID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for owner, clients := range h.clients {
		for _, c := range clients {
			close(c.Send)
		}
		delete(h.clients, owner)
	}
}
