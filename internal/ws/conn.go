package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"smartbox/internal/bridge"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
)

// Conn is one UI connection.
type Conn struct {
	id  string
	ws  *websocket.Conn
	hub *Hub

	mu     sync.RWMutex
	send   chan []byte
	closed bool

	// done is closed before send so a reply waiting for room gives up.
	done     chan struct{}
	doneOnce sync.Once
}

func newConn(ws *websocket.Conn, hub *Hub) *Conn {
	return &Conn{
		id:   ulid.Make().String(),
		ws:   ws,
		hub:  hub,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

// ServeConn runs ws until the peer goes away or ctx ends. Envelopes are
// handed to the bridge in arrival order; replies and events share the
// connection's write queue.
func (h *Hub) ServeConn(ctx context.Context, ws *websocket.Conn) {
	c := newConn(ws, h)
	h.register(c)
	h.log.Info("WebSocket connected", zap.String("conn", c.id), zap.String("remote", ws.RemoteAddr().String()))

	go c.WritePump()

	in := make(chan []byte)
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = h.bridge.Serve(ctx, in, c.reply)
	}()

	c.ReadPump(ctx, in)
	c.release()
	close(in)
	<-served

	h.unregister(c)
	h.log.Info("WebSocket disconnected", zap.String("conn", c.id))
}

func (c *Conn) reply(r bridge.Reply) {
	msg, err := json.Marshal(r)
	if err != nil {
		c.hub.log.Error("Failed to encode reply", zap.String("id", r.ID), zap.Error(err))
		return
	}
	if !c.enqueue(msg, writeWait) {
		c.hub.log.Warn("Reply dropped, connection closed or stalled",
			zap.String("conn", c.id),
			zap.String("id", r.ID),
			zap.String("action", r.Action),
		)
	}
}

// enqueue queues msg for the writer. With wait > 0 it blocks up to wait for
// room in the queue; otherwise a full queue drops msg.
func (c *Conn) enqueue(msg []byte, wait time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
	}
	if wait <= 0 {
		return false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case c.send <- msg:
		return true
	case <-timer.C:
		return false
	case <-c.done:
		return false
	}
}

// release wakes replies waiting for queue room; they give up.
func (c *Conn) release() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Conn) closeSend() {
	c.release()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump forwards text frames to in until the connection fails.
func (c *Conn) ReadPump(ctx context.Context, in chan<- []byte) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("WebSocket error", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		select {
		case in <- message:
		case <-ctx.Done():
			return
		}
	}
}

// WritePump writes queued messages, one per frame, and keeps the peer alive
// with pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
