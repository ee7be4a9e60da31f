// Package ws carries envelopes between UI websocket connections and the
// bridge, and pushes host events to every connected UI.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"smartbox/internal/bridge"
)

// ConnObserver is told about connections coming and going.
type ConnObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened() {}
func (nopObserver) ConnectionClosed() {}

// Event is a host-initiated message for all connected UIs.
type Event struct {
	Name string
	Data map[string]interface{}
}

// Hub manages websocket connections. Every connection gets its own bridge
// Serve loop; events are broadcast to all of them.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]bool
	publish chan Event
	bridge  *bridge.Bridge
	log     *zap.Logger
	metrics ConnObserver
}

// Option configures a Hub.
type Option func(*Hub)

func WithObserver(o ConnObserver) Option {
	return func(h *Hub) { h.metrics = o }
}

// NewHub creates a hub dispatching through b.
func NewHub(b *bridge.Bridge, log *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		conns:   make(map[*Conn]bool),
		publish: make(chan Event, 256),
		bridge:  b,
		log:     log,
		metrics: nopObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run broadcasts published events until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.publish:
			h.broadcast(event)
		}
	}
}

func (h *Hub) broadcast(event Event) {
	msg, err := json.Marshal(map[string]interface{}{
		"type":  "event",
		"event": event.Name,
		"data":  event.Data,
	})
	if err != nil {
		h.log.Error("Failed to encode event", zap.String("event", event.Name), zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.enqueue(msg, 0) {
			h.log.Warn("Dropping slow websocket connection", zap.String("conn", c.id))
			h.unregister(c)
		}
	}
}

// Publish queues an event for all connections. It never blocks.
func (h *Hub) Publish(event string, data map[string]interface{}) {
	select {
	case h.publish <- Event{Name: event, Data: data}:
	default:
		h.log.Warn("Hub publish channel full, dropping event", zap.String("event", event))
	}
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
}

// unregister removes c and closes its send queue, which ends its WritePump.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()

	if ok {
		c.closeSend()
		h.metrics.ConnectionClosed()
	}
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}
