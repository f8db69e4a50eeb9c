// Package realtime streams gate activity to WebSocket subscribers.
// The audit recorder mirrors every settled request into the hub and
// the guard notifier feeds security events, so admin dashboards
// subscribe to live topics instead of polling the request log.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/textsmith/internal/audit"
	"github.com/mbd888/textsmith/internal/metrics"
)

// Topic is a subscribable event stream.
type Topic string

const (
	// TopicAudit carries one event per settled metered request.
	TopicAudit Topic = "audit"
	// TopicSecurity carries guard events: locks, unlocks, flagged sessions.
	TopicSecurity Topic = "security"
	// TopicUsage carries quota threshold crossings.
	TopicUsage Topic = "usage"
)

// Event types within the topics.
const (
	TypeRequest         = "request"
	TypeAccountLocked   = "account.locked"
	TypeAccountUnlocked = "account.unlocked"
	TypeSessionFlagged  = "session.flagged"
	TypeUsageWarning    = "usage.warning"
	TypeQuotaExhausted  = "quota.exhausted"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageSize bounds inbound subscription updates.
	maxMessageSize = 4096

	// backlogSize is how many recent events replay to a fresh client.
	backlogSize = 64
)

// MaxClients is the maximum number of concurrent feed connections.
const MaxClients = 512

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Event is one feed item.
type Event struct {
	Topic     Topic     `json:"topic"`
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription filters what a client receives. Empty Topics means
// every topic; TenantID narrows the feed to one tenant's events.
type Subscription struct {
	Topics   []Topic `json:"topics"`
	TenantID string  `json:"tenant_id"`
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// Hub manages all feed connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	// Ring of recent events replayed on connect. Only the Run
	// goroutine touches it.
	backlog  [backlogSize]*Event
	backlogN int

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new feed hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

			// Replay the backlog so a fresh dashboard is not empty.
			start := h.backlogN - backlogSize
			if start < 0 {
				start = 0
			}
			for i := start; i < h.backlogN; i++ {
				event := h.backlog[i%backlogSize]
				if h.shouldSend(client, event) {
					select {
					case client.send <- h.serialize(event):
					default:
					}
				}
			}
			h.logger.Info("feed client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("feed client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			h.backlog[h.backlogN%backlogSize] = event
			h.backlogN++

			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, event) {
					select {
					case client.send <- h.serialize(event):
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if len(sub.Topics) > 0 {
		matched := false
		for _, t := range sub.Topics {
			if t == event.Topic {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if sub.TenantID != "" && event.TenantID != sub.TenantID {
		return false
	}

	return true
}

func (h *Hub) serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Publish queues an event for fan-out, dropping it when the hub is
// saturated. Feed delivery is best effort.
func (h *Hub) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("feed channel full, dropping event")
	}
}

// PublishAudit mirrors a request log entry onto the audit topic.
// Signature matches the audit recorder's mirror hook.
func (h *Hub) PublishAudit(entry *audit.Entry) {
	h.Publish(&Event{
		Topic:    TopicAudit,
		Type:     TypeRequest,
		TenantID: entry.TenantID,
		Data:     entry,
	})
}

// PublishSecurity emits a guard event on the security topic.
func (h *Hub) PublishSecurity(eventType, tenantID string, data any) {
	h.Publish(&Event{
		Topic:    TopicSecurity,
		Type:     eventType,
		TenantID: tenantID,
		Data:     data,
	})
}

// PublishUsage emits a quota threshold event on the usage topic.
func (h *Hub) PublishUsage(eventType, tenantID string, data any) {
	h.Publish(&Event{
		Topic:    TopicUsage,
		Type:     eventType,
		TenantID: tenantID,
		Data:     data,
	})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connected_clients": len(h.clients),
		"total_events":      h.totalEvents.Load(),
		"total_clients":     h.totalClients.Load(),
		"peak_clients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket. Initial filters come
// from the query string: ?topics=audit,security&tenant_id=ten_x
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	sub := subscriptionFromQuery(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  sub,
	}

	h.register <- client

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

func subscriptionFromQuery(r *http.Request) Subscription {
	var sub Subscription
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if t := Topic(strings.TrimSpace(part)); t != "" {
				sub.Topics = append(sub.Topics, t)
			}
		}
	}
	sub.TenantID = r.URL.Query().Get("tenant_id")
	return sub
}

// readPump reads messages from WebSocket (subscription updates, pongs)
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		// Parse subscription update
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
