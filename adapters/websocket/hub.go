package websocket

import (
	"sync"

	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	log.WithCtx(client.ctx).Debug("New client registered")
}

// Unregister removes a client from the hub and closes it
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if ok {
		client.Close()
		log.WithCtx(client.ctx).Debug("Client unregistered")
	}
}

// Dispatch sends message to every client watching jobID.
func (h *Hub) Dispatch(jobID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if client.IsClosed() || !client.Watches(jobID) {
			continue
		}
		if client.SendMessage(message) == nil {
			sent++
		}
	}
	return sent
}

// CloseAll closes every registered client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.Close()
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
