// Package commandsurface translates GUI requests into calls against the
// runtime's components and republishes the internal event bus as named
// WebSocket events, per §4.I.
package commandsurface

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
)

// outboundEvent is the envelope every bus event is re-wrapped in before
// reaching a GUI client.
type outboundEvent struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Hub fans every bus event out to every connected GUI client, mirroring the
// teacher's broadcast-to-subscribed-clients hub but with a single implicit
// "subscribe to everything" topic, since the desktop GUI has no per-task
// stream concept of its own.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	log     *logger.Logger
}

// NewHub constructs a Hub and subscribes it to every event name on evt.
func NewHub(evt bus.EventBus, log *logger.Logger) *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		log:     log.With(zap.String("component", "command_surface_hub")),
	}
	evt.Subscribe("*", func(ctx context.Context, e bus.Event) {
		h.broadcast(e)
	})
	return h
}

func (h *Hub) broadcast(e bus.Event) {
	data, err := json.Marshal(outboundEvent{Event: e.Name, Payload: e.Payload})
	if err != nil {
		h.log.Error("failed to marshal outbound event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client send buffer full, dropping event", zap.String("event", e.Name))
		}
	}
}

// register adds a client to the broadcast set.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// unregister removes a client and closes its send channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
