package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"pidash/internal/constants"
	"pidash/internal/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.WSBufferSize,
	WriteBufferSize: constants.WSBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		// Local dashboard service; the browser SPA connects from whatever
		// host the Pi is reachable on.
		return true
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans periodic dashboard snapshots out to connected websocket clients.
// A client that cannot keep up is dropped rather than allowed to stall the
// broadcast.
type Hub struct {
	srv        *Server
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}
}

func NewHub(srv *Server) *Hub {
	return &Hub{
		srv:        srv,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// Push periodically rebuilds the combined snapshot and hands it to the hub.
// Every source it touches is cached, so the tick stays cheap.
func (h *Hub) Push() {
	ticker := time.NewTicker(constants.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.pushOnce()
		case <-h.done:
			return
		}
	}
}

func (h *Hub) pushOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.UpstreamTimeout)
	defer cancel()

	payload := map[string]any{
		"type":       "snapshot",
		"stats":      h.srv.Stats.Collect(ctx),
		"meshtastic": h.srv.Mesh.Snapshot(),
		"financial":  h.srv.Quotes.Get(ctx),
		"sent_at":    time.Now(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️ Snapshot marshal: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

func (h *Hub) Close() {
	close(h.done)
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("🔌 WebSocket upgrade failed from %s: %v", security.GetClientIP(r), err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 16)}
	s.Hub.register <- client

	go client.writePump()
	go client.readPump(s.Hub)

	log.Printf("🔌 Dashboard connected: %s", security.GetClientIP(r))
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump exists only to notice the peer going away.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
