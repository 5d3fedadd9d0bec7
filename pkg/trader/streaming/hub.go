// Package streaming provides real-time WebSocket streaming for trading events.
package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of streaming event.
type EventType string

const (
	EventTypeOrder     EventType = "order"
	EventTypePosition  EventType = "position"
	EventTypeFill      EventType = "fill"
	EventTypeStatus    EventType = "status"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

var allEventTypes = []EventType{
	EventTypeOrder,
	EventTypePosition,
	EventTypeFill,
	EventTypeStatus,
	EventTypeError,
	EventTypeHeartbeat,
}

// Event is a streaming event sent to clients. Events about a single market
// carry its id so clients can filter by market.
type Event struct {
	Type      EventType `json:"type"`
	MarketID  string    `json:"market_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Hub manages WebSocket connections and broadcasts events. It is a
// derivative.Observer, so a desk can stream its order and position events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	upgrader  websocket.Upgrader
	heartbeat time.Duration
	logger    logrus.FieldLogger
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Subscription filters. An empty market set means every market.
	subscriptions map[EventType]bool
	markets       map[string]bool
	subMu         sync.RWMutex
}

// HubOption configures the hub.
type HubOption func(*Hub)

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		h.heartbeat = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithCheckOrigin restricts which origins may connect.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHub creates a new streaming hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		heartbeat: 30 * time.Second,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithField("component", "ws")
	return h
}

// Run starts the hub's event loop and returns when ctx is done, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", n).Info("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", n).Info("client disconnected")

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-heartbeat.C:
			h.broadcastEvent(Event{
				Type:      EventTypeHeartbeat,
				Timestamp: time.Now(),
				Data:      map[string]any{"clients": h.ClientCount()},
			})
		}
	}
}

func (h *Hub) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).WithField("type", event.Type).Warn("failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(event) {
			continue
		}

		select {
		case client.send <- data:
		default:
			// Client buffer full, close connection
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("type", event.Type).Warn("broadcast channel full, dropping event")
	}
}

// ObserveOrder streams an order attempt.
func (h *Hub) ObserveOrder(ev derivative.OrderEvent) {
	h.Broadcast(Event{
		Type:      EventTypeOrder,
		MarketID:  ev.MarketID,
		Timestamp: ev.Timestamp,
		Data:      ev,
	})
}

// ObservePositions streams a position read.
func (h *Hub) ObservePositions(ev derivative.PositionsEvent) {
	h.Broadcast(Event{
		Type:      EventTypePosition,
		Timestamp: ev.Timestamp,
		Data:      ev,
	})
}

// BroadcastFill broadcasts a simulated fill in marketID.
func (h *Hub) BroadcastFill(marketID string, fill any) {
	h.Broadcast(Event{
		Type:      EventTypeFill,
		MarketID:  marketID,
		Timestamp: time.Now(),
		Data:      fill,
	})
}

// BroadcastStatus broadcasts a status update.
func (h *Hub) BroadcastStatus(status any) {
	h.Broadcast(Event{
		Type:      EventTypeStatus,
		Timestamp: time.Now(),
		Data:      status,
	})
}

// BroadcastError broadcasts an error event.
func (h *Hub) BroadcastError(err error, context string) {
	h.Broadcast(Event{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		Data: map[string]any{
			"error":   err.Error(),
			"kind":    derivative.KindOf(err),
			"context": context,
		},
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles WebSocket upgrade requests.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("upgrade failed")
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// newClient subscribes the client to all events.
func newClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool, len(allEventTypes)),
		markets:       make(map[string]bool),
	}
	for _, t := range allEventTypes {
		c.subscriptions[t] = true
	}
	return c
}

// wants applies both filters. Events without a market pass the market filter.
func (c *Client) wants(event Event) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if !c.subscriptions[event.Type] {
		return false
	}
	if event.MarketID == "" || len(c.markets) == 0 {
		return true
	}
	return c.markets[strings.ToLower(event.MarketID)]
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("read error")
			}
			break
		}

		// Handle subscription messages
		c.handleMessage(message)
	}
}

// handleMessage applies a subscription change:
//
//	{"type": "subscribe", "events": ["fill"], "markets": ["0x4ca0..."]}
//
// Subscribing to markets narrows the stream to them; unsubscribing from
// the last one restores every market.
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type    string   `json:"type"`
		Events  []string `json:"events"`
		Markets []string `json:"markets"`
	}

	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	switch msg.Type {
	case "subscribe":
		for _, event := range msg.Events {
			c.subscriptions[EventType(event)] = true
		}
		for _, id := range msg.Markets {
			c.markets[strings.ToLower(id)] = true
		}

	case "unsubscribe":
		for _, event := range msg.Events {
			delete(c.subscriptions, EventType(event))
		}
		for _, id := range msg.Markets {
			delete(c.markets, strings.ToLower(id))
		}
	}
}

// writePump writes messages to the WebSocket connection, one event per
// text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
