package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"torrentsession/internal/domain"
	"torrentsession/internal/metrics"
)

const sessionTTL = 10 * time.Minute

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// Hub fans session events out to websocket clients and tracks which
// observer sessions are still alive. It satisfies both the notifier
// and the session validator the manager is wired with.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
		sessions:   make(map[string]time.Time),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				close(client.send)
				delete(h.clients, client)
			}
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.EndSession(client.sessionID)
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Close signals the hub to stop and disconnect all clients.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Emit implements the manager's notifier port. It never blocks: a full
// broadcast channel drops the event.
func (h *Hub) Emit(e domain.Event) {
	payload, err := json.Marshal(wsMessage{Type: e.Kind(), Data: e})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// TouchSession records activity for an observer session, creating it
// when unknown.
func (h *Hub) TouchSession(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	h.sessions[id] = time.Now()
	metrics.ObserverSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()
}

// EndSession forgets an observer session immediately.
func (h *Hub) EndSession(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	delete(h.sessions, id)
	metrics.ObserverSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()
}

// SessionValid reports whether an observer session has been active
// recently. Expired sessions are dropped on the spot, which lets the
// manager prune their status baselines.
func (h *Hub) SessionValid(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen, ok := h.sessions[id]
	if !ok {
		return false
	}
	if time.Since(seen) > sessionTTL {
		delete(h.sessions, id)
		metrics.ObserverSessions.Set(float64(len(h.sessions)))
		return false
	}
	return true
}

// NewSessionID mints an observer session identifier and registers it.
func (h *Hub) NewSessionID() string {
	id := uuid.NewString()
	h.TouchSession(id)
	return id
}

func (h *Hub) clientCount() int {
	return len(h.clients)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.hub.TouchSession(c.sessionID)
		return nil
	})
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
