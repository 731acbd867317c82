package sse

import (
	"context"
	"sync"

	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
)

// Hub manages SSE and WebSocket clients keyed by participant.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notification.Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*notification.Client),
	}
}

func (h *Hub) Register(client *notification.Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ClientID]; ok {
		return notification.ErrClientExists
	}
	h.clients[client.ClientID] = client
	return nil
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SendToParticipant(participant string, message *notification.Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, c := range h.clients {
		if c.Participant == participant && trySend(c, message) {
			sent++
		}
	}
	return sent
}

// Notify implements notification.Notifier. Participants without an open
// stream simply miss the event.
func (h *Hub) Notify(ctx context.Context, participant string, event notification.Event, payload any) error {
	_ = ctx
	msg, err := notification.Encode(event, payload)
	if err != nil {
		return err
	}
	h.SendToParticipant(participant, msg)
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *notification.Client, msg *notification.Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
