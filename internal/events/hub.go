package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub broadcasts bus events to connected websocket clients
// (operator dashboards). It is an observer only; it never feeds
// anything back into the scheduler.
type Hub struct {
	bus *Bus
	log *slog.Logger

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
}

func NewHub(bus *Bus, log *slog.Logger) *Hub {
	return &Hub{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard origins are enforced at the proxy layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run consumes the bus subscription until ctx is cancelled.
// Call it from a dedicated goroutine.
func (h *Hub) Run(ctx context.Context) {
	ch, cancel := h.bus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(e)
		}
	}
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.log.Info("websocket client connected", "clients", n)

	// Reader goroutine exists only to detect disconnects.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast(e Event) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(e); err != nil {
			h.log.Warn("websocket write failed", "err", err)
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
	}
	n := len(h.clients)
	h.clientsMu.Unlock()
	_ = conn.Close()
	h.log.Info("websocket client disconnected", "clients", n)
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

// ClientCount reports connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}
