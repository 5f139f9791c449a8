package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RequestIDHeader carries the connection's request id.
const RequestIDHeader = "X-Request-ID"

const (
	hubWriteTimeout = 10 * time.Second
	hubPingInterval = 30 * time.Second
	hubPongTimeout  = 10 * time.Second
	hubClientBuffer = 32
)

// Hub pushes events to websocket clients.
type Hub struct {
	logger   *Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn   *websocket.Conn
	logger *Logger
	send chan Event
	done chan struct{}
	once sync.Once
}

// NewHub creates a websocket hub.
func NewHub(logger *Logger) *Hub {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Hub{
		logger: logger.WithField("component", "event_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Emit implements Sink.
func (h *Hub) Emit(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.logger.Debug("Client buffer full, dropping event")
		}
	}
}

// Run forwards events from a subscription until ctx is done or the channel closes.
func (h *Hub) Run(ctx context.Context, in <-chan Event) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			h.Emit(ev)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events as JSON messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	ctx := WithRequestID(WithLogger(r.Context(), h.logger), id)
	logger := FromContext(ctx)

	conn, err := h.upgrader.Upgrade(w, r, http.Header{RequestIDHeader: {id}})
	if err != nil {
		logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &hubClient{
		conn:   conn,
		logger: logger,
		send:   make(chan Event, hubClientBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	logger.WithField("remote", r.RemoteAddr).Debug("Event client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(c *hubClient) {
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(hubPongTimeout + hubPingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongTimeout + hubPingInterval))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Event client read error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(hubPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.WithError(err).Debug("Event write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(hubWriteTimeout))
			return
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.once.Do(func() { close(c.done) })
	}
}
