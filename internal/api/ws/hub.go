package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/observability"
	"github.com/your-org/intelliguard/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed is behind the API key, not the origin
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	identity string // optional filter
}

type message struct {
	identity string
	data     []byte
}

// Hub maintains active WebSocket clients and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop and returns when ctx ends. Call this in a
// goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.identity)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.identity != "" && client.identity != msg.identity {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// slow consumer
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client. Must hold h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every client whose filter matches. It never blocks
// the caller; events are dropped when the hub is saturated.
func (h *Hub) Broadcast(ev models.Event) {
	data, err := json.Marshal(dto.FromEvent(ev))
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- message{identity: ev.Identity, data: data}:
	default:
		slog.Warn("ws broadcast queue full, dropping event", "type", ev.Type, "id", ev.ID)
	}
}

// PublishEvent lets the hub stand in for the event bus when none is
// configured, and serves as the event consumer's handler when one is.
func (h *Hub) PublishEvent(_ context.Context, ev models.Event) error {
	h.Broadcast(ev)
	return nil
}

// HandleWS handles WebSocket upgrade requests. ?identity= restricts the feed
// to one identity.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		identity: c.Query("identity"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		// Incoming messages are ignored; reading detects disconnection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
