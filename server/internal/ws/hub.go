package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsewatch/pulsewatch/server/internal/broadcast"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the connection
	// as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var (
	errClosed       = errors.New("ws: connection closed")
	errSlowConsumer = errors.New("ws: send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Subscriber is the part of the monitor the stream needs.
type Subscriber interface {
	Register(s broadcast.Sink)
	Unregister(s broadcast.Sink)
	Update() broadcast.Update
}

// Handler upgrades requests to WebSocket and subscribes them to the monitor.
type Handler struct {
	sub Subscriber
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New returns a Handler that subscribes connections to sub.
func New(sub Subscriber) *Handler {
	return &Handler{
		sub:     sub,
		log:     slog.Default(),
		clients: make(map[*client]struct{}),
	}
}

// Count returns the number of open connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll sends a close frame to every open connection. Used at shutdown,
// since http.Server.Shutdown does not touch hijacked connections.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

// ServeHTTP blocks until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := newClient(conn)
	if data, err := broadcast.UpdatePayload(h.sub.Update()); err == nil {
		c.Send(data) //nolint:errcheck
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.sub.Register(c)
	defer func() {
		h.sub.Unregister(c)
		c.close()
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()
	h.log.Debug("ws: client connected", "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// client is one connected WebSocket client. It implements broadcast.Sink.
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBufSize)}
}

// Send queues payload without blocking. A full buffer closes the client.
func (c *client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeLocked()
		return errSlowConsumer
	}
}

func (c *client) close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump forwards queued payloads to the connection and sends periodic
// pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
