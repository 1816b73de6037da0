package events

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cleanmadurai/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Citizen dashboards connect from arbitrary origins.
		return true
	},
}

// broadcastMessage is the envelope every subscriber receives.
type broadcastMessage struct {
	Type      string                `json:"type"`
	Data      models.ComplaintEvent `json:"data"`
	Timestamp time.Time             `json:"timestamp"`
}

// Hub fans complaint events out to connected websocket subscribers. It
// satisfies the lifecycle engine's event sink, so every status or priority
// change a client causes shows up live on every open dashboard.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mutex sync.RWMutex
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run is the hub's main loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()
			log.Printf("Websocket client connected. Total clients: %d", h.ClientCount())

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			log.Printf("Websocket client disconnected. Total clients: %d", h.ClientCount())

		case message := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Publish broadcasts a complaint event to all subscribers. It never blocks
// the caller: with no hub loop draining the channel the event is dropped.
func (h *Hub) Publish(event models.ComplaintEvent) {
	message := broadcastMessage{
		Type:      "complaint_update",
		Data:      event,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal complaint event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("Event broadcast buffer full, dropping update for %s", event.ComplaintID)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	cl := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- cl

	go cl.writePump()
	go cl.readPump()
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control messages and detect closed connections.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Websocket read error: %v", err)
			}
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
