package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket connection-management constants (gorilla/websocket's own
// recommended values).
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one registered dashboard socket, carrying broadcast-only
// metrics payloads.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *hub
	closer sync.Once
}

func (c *wsClient) close() {
	c.closer.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			select {
			case c.send <- []byte(`{"type":"pong"}`):
			default:
			}
		case "request_update":
			c.hub.sendSnapshotNow(c)
		case "auth":
			// Auth is enforced at HTTP upgrade time (bearer token on the
			// upgrade request); nothing further to do per-message.
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// hub owns the set of connected dashboard sockets and implements
// metrics.Broadcaster via a register/unregister/broadcast channel loop.
type hub struct {
	log *zap.SugaredLogger

	maxConns int

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*wsClient]bool

	onRegister   func()
	onUnregister func()

	stop chan struct{}
}

func newHub(log *zap.SugaredLogger, maxConns int, onRegister, onUnregister func()) *hub {
	return &hub{
		log:          log,
		maxConns:     maxConns,
		register:     make(chan *wsClient),
		unregister:   make(chan *wsClient),
		broadcast:    make(chan []byte, 64),
		clients:      make(map[*wsClient]bool),
		onRegister:   onRegister,
		onUnregister: onUnregister,
		stop:         make(chan struct{}),
	}
}

// Broadcast implements metrics.Broadcaster: the metrics broadcaster worker
// hands us a JSON payload at the configured interval.
func (h *hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.stop:
	default:
		if h.log != nil {
			h.log.Warnw("broadcast channel full, dropping metrics snapshot")
		}
	}
}

// sendSnapshotNow handles a client's explicit "request_update". The hub
// keeps no copy of the last broadcast payload, so it sends nothing; the
// client receives the next scheduled broadcast like every other client.
func (h *hub) sendSnapshotNow(c *wsClient) {}

func (h *hub) run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			h.clients = make(map[*wsClient]bool)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.maxConns > 0 && len(h.clients) >= h.maxConns {
				h.mu.Unlock()
				c.close()
				if h.log != nil {
					h.log.Warnw("max websocket connections reached, rejecting", "client_id", c.id)
				}
				continue
			}
			h.clients[c] = true
			h.mu.Unlock()
			if h.onRegister != nil {
				h.onRegister()
			}
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				h.mu.Unlock()
				c.close()
				if h.onUnregister != nil {
					h.onUnregister()
				}
			} else {
				h.mu.Unlock()
			}
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					if h.log != nil {
						h.log.Warnw("client send channel full, dropping", "client_id", c.id)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *hub) Stop() { close(h.stop) }

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, 16), hub: h}
	h.register <- c
	go c.writePump()
	go c.readPump()
}
