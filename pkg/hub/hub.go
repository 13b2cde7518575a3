// Package hub fans capture and session events out to websocket clients.
// Events are JSON text frames; a client that cannot keep up is evicted
// rather than stalling the others.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// queueSize bounds events waiting for the fan-out loop.
const queueSize = 256

// Hub tracks connected clients and broadcasts encoded events to them.
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]struct{}
	mu      sync.RWMutex // guards clients for ClientCount

	events chan []byte
	join   chan *Client
	leave  chan *Client
	done   chan struct{}

	dropped atomic.Int64
	evicted atomic.Int64
}

// New creates a hub. Call Run before publishing.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:    name,
		logger:  logger.With("component", "hub", "hub", name),
		clients: make(map[*Client]struct{}),
		events:  make(chan []byte, queueSize),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		done:    make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.remove(c)
			}
			h.mu.Unlock()
			h.logger.Debug("hub stopped")
			return

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "client", c.ID, "clients", n)

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.remove(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client", c.ID, "clients", n)

		case data := <-h.events:
			h.fanOut(data)
		}
	}
}

func (h *Hub) fanOut(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- data:
		default:
			h.remove(c)
			h.evicted.Add(1)
			h.logger.Warn("evicted slow client", "client", c.ID)
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	close(c.out)
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Send queues pre-encoded JSON for every client. The event is dropped
// when the queue is full.
func (h *Hub) Send(data []byte) {
	select {
	case h.events <- data:
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event")
	}
}

// BroadcastJSON encodes v and queues it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Send(data)
	return nil
}

// Publish is BroadcastJSON for callers that only log failures.
func (h *Hub) Publish(v any) {
	if err := h.BroadcastJSON(v); err != nil {
		h.logger.Warn("encode event", "error", err)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats reports dropped events and evicted clients.
func (h *Hub) Stats() (dropped, evicted int64) {
	return h.dropped.Load(), h.evicted.Load()
}
