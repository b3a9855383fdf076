package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"online-subsystem/internal/online"

	"github.com/gorilla/websocket"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// Messages queued per client before it is dropped as too slow
	wsSendQueue = 64

	wsWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// wsClient is one connected socket and the events it asked for.
type wsClient struct {
	conn *websocket.Conn
	ip   string
	send chan []byte

	mu     sync.Mutex
	events map[string]bool // nil means every event
}

// wsCommand is what a client may send. Subscribe replaces the client's
// event filter; an empty list restores every event.
type wsCommand struct {
	Subscribe []string `json:"subscribe"`
}

func (c *wsClient) wants(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events == nil || c.events[event]
}

func (c *wsClient) subscribe(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(events) == 0 {
		c.events = nil
		return
	}
	c.events = make(map[string]bool, len(events))
	for _, e := range events {
		c.events[e] = true
	}
}

// writePump owns all writes to the connection.
func (c *wsClient) writePump(h *WebSocketHub) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
			return
		}
		IncrementWSMessages()
	}
}

type wsOutbound struct {
	event string
	data  []byte
}

// WebSocketHub fans subsystem events out to browser clients
type WebSocketHub struct {
	clients    map[*wsClient]bool
	broadcast  chan wsOutbound
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex

	wsLimiter *WebSocketRateLimiter

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub creates a new hub with connection limiting
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan wsOutbound, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		stopChan:   make(chan struct{}),
	}
}

// Run starts the hub. It returns after Stop, closing every client.
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stopChan:
			h.mu.Lock()
			for c := range h.clients {
				h.remove(c)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			go c.writePump(h)

			log.Printf("📱 Client connected from %s (%d total)", c.ip, count)
			UpdateWSConnections(count)

		case c := <-h.unregister:
			h.mu.Lock()
			removed := h.remove(c)
			count := len(h.clients)
			h.mu.Unlock()
			if removed {
				log.Printf("📱 Client disconnected (%d remaining)", count)
				UpdateWSConnections(count)
			}

		case out := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(out.event) {
					continue
				}
				select {
				case c.send <- out.data:
				default:
					log.Printf("⚠️ Dropping slow WebSocket client %s", c.ip)
					h.remove(c)
				}
			}
			UpdateWSConnections(len(h.clients))
			h.mu.Unlock()
		}
	}
}

// remove forgets c and closes its socket. Caller holds mu.
func (h *WebSocketHub) remove(c *wsClient) bool {
	if !h.clients[c] {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
	h.wsLimiter.Release(c.ip)
	return true
}

// drop asks Run to unregister c.
func (h *WebSocketHub) drop(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.stopChan:
	}
}

// Stop ends Run. Safe to call more than once.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// OnEvent forwards subsystem events to every client. It runs on the tick
// goroutine, so it only ever queues.
func (h *WebSocketHub) OnEvent(e online.Event) {
	if e.Type == online.EventTypeLanPacket || h.ClientCount() == 0 {
		return
	}
	h.Broadcast(e.Type.String(), map[string]interface{}{
		"tick":    e.TickNum,
		"payload": json.RawMessage(e.Payload),
	})
}

// Broadcast queues an event for every subscribed client. When the hub is
// backed up the event is skipped.
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	b, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data":  data,
	})
	if err != nil {
		log.Printf("⚠️ WebSocket encode %s: %v", event, err)
		return
	}

	select {
	case h.broadcast <- wsOutbound{event: event, data: b}:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartBroadcastLoop pushes engine stats once a second while clients are
// connected.
func (h *WebSocketHub) StartBroadcastLoop(engine EngineInterface) {
	ticker := time.NewTicker(time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.stopChan:
				return
			case <-ticker.C:
			}
			if h.ClientCount() > 0 {
				h.Broadcast("engine:stats", engine.Stats())
			}
		}
	}()
}

// HandleWebSocket upgrades the request after the total and per-IP limits.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if total := h.ClientCount(); total >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket upgrade from %s: %v", ip, err)
		h.wsLimiter.Release(ip)
		return
	}

	c := &wsClient{conn: conn, ip: ip, send: make(chan []byte, wsSendQueue)}
	select {
	case h.register <- c:
	case <-h.stopChan:
		conn.Close()
		h.wsLimiter.Release(ip)
		return
	}

	go h.readPump(c)
}

// readPump applies subscribe commands until the socket closes.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer h.drop(c)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("⚠️ Ignoring WebSocket message from %s: %v", c.ip, err)
			continue
		}
		c.subscribe(cmd.Subscribe)
		log.Printf("📨 Client %s subscribed to %v", c.ip, cmd.Subscribe)
	}
}
