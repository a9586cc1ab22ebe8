package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/realtymesh/internal/natsbus"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watcher is one websocket client. A non-empty run limits it to the events
// of that aggregation.
type watcher struct {
	run string
}

func (w watcher) wants(ev natsbus.Event) bool {
	return w.run == "" || ev.RunID == w.run
}

// Hub fans bus events out to connected websocket clients.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]watcher
	broadcast chan natsbus.Event
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]watcher),
		broadcast: make(chan natsbus.Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ping.C:
			h.each(func(c *websocket.Conn, _ watcher) error {
				return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			})
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.each(func(c *websocket.Conn, w watcher) error {
				if !w.wants(ev) {
					return nil
				}
				c.SetWriteDeadline(time.Now().Add(writeWait))
				return c.WriteMessage(websocket.TextMessage, data)
			})
		}
	}
}

// each runs fn for every client and drops the ones it fails on.
func (h *Hub) each(fn func(*websocket.Conn, watcher) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, w := range h.clients {
		if err := fn(c, w); err != nil {
			c.Close()
			delete(h.clients, c)
		}
	}
}

// Broadcast queues an event without blocking the bus subscriber.
func (h *Hub) Broadcast(ev natsbus.Event) {
	select {
	case h.broadcast <- ev:
	default:
		slog.Warn("websocket broadcast channel full, dropping event", "type", ev.Type, "run", ev.RunID)
	}
}

func (h *Hub) Register(conn *websocket.Conn, run string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = watcher{run: run}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.each(func(*websocket.Conn, watcher) error { return websocket.ErrCloseSent })
}

// handleWebSocket streams events; ?run=<id> follows a single aggregation.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn, r.URL.Query().Get("run"))
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
