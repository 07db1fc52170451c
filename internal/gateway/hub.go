package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/terminal-bench/revguard/pkg/circuit"
	"github.com/terminal-bench/revguard/shared/events"
)

// WSClient is one connected WebSocket subscriber.
type WSClient struct {
	ID      uuid.UUID
	Address string
	Conn    *websocket.Conn
	Send    chan []byte
	Done    chan struct{}
}

// Hub fans protocol events out to connected WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*WSClient
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*WSClient)}
}

func (h *Hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Broadcast sends message to every client. Slow clients are skipped rather
// than blocking the publisher.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- message:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type wsEnvelope struct {
	Subject string      `json:"subject"`
	Payload interface{} `json:"payload"`
}

// EventTee is the events.Publisher handed to the core packages. It mirrors
// every event to the WebSocket hub and forwards it to the remote bus under a
// circuit breaker.
type EventTee struct {
	remote   events.Publisher
	hub      *Hub
	breakers *circuit.BreakerGroup
}

func NewEventTee(remote events.Publisher, hub *Hub, breakers *circuit.BreakerGroup) *EventTee {
	return &EventTee{remote: remote, hub: hub, breakers: breakers}
}

func (t *EventTee) Publish(ctx context.Context, subject string, data interface{}) error {
	if msg, err := json.Marshal(wsEnvelope{Subject: subject, Payload: data}); err == nil {
		t.hub.Broadcast(msg)
	}

	if t.remote == nil {
		return nil
	}
	return t.breakers.Execute(ctx, "events", func() error {
		return t.remote.Publish(ctx, subject, data)
	})
}
