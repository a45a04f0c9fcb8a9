// Package handlers provides the HTTP and WebSocket handlers of the
// scheduler ops server.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
	"github.com/miniflow-io/miniflow/internal/shared/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MessageType defines WebSocket message types.
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeEvent       MessageType = "event"
	MessageTypeError       MessageType = "error"
)

// Channel names clients can subscribe to. ChannelExecutions is the
// firehose; per-workspace channels are WorkspaceChannel(id).
const ChannelExecutions = "executions"

// WorkspaceChannel names the channel carrying one workspace's events.
func WorkspaceChannel(workspaceID string) string {
	return "workspace:" + workspaceID
}

// Message is the frame exchanged with feed clients. Clients send
// subscribe/unsubscribe/ping; the server sends event/pong/error.
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client is one connected feed consumer.
type Client struct {
	ID       string
	Conn     *websocket.Conn
	Channels map[string]bool
	Send     chan []byte
	hub      *Hub
}

// Hub tracks connected clients and fans lifecycle events out to the
// channels they subscribed to.
type Hub struct {
	log     logger.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	clients  map[*Client]bool
	channels map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, log logger.Logger) *Hub {
	return &Hub{
		log:        log,
		metrics:    m,
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
	}
}

// Run owns the client registry until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.WebsocketClients.Inc()
			}

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// Feed consumes the broadcaster subscription and republishes every
// lifecycle event to the firehose and the event's workspace channel.
func (h *Hub) Feed(ctx context.Context, b *events.Broadcaster) {
	sub, cancel := b.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			msg := &Message{
				Type:      MessageTypeEvent,
				Event:     event.EventType,
				Data:      data,
				Timestamp: event.Timestamp,
			}
			h.Broadcast(ChannelExecutions, msg)
			if event.WorkspaceID != "" {
				h.Broadcast(WorkspaceChannel(event.WorkspaceID), msg)
			}
		}
	}
}

// Broadcast queues a message for every subscriber of the channel. A
// full hub queue drops the message rather than block the feed.
func (h *Hub) Broadcast(channel string, msg *Message) {
	out := *msg
	out.Channel = channel
	select {
	case h.broadcast <- &out:
	default:
		h.log.Warn("websocket broadcast queue full, event dropped", "channel", channel)
	}
}

func (h *Hub) fanOut(message *Message) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.channels[message.Channel]))
	for client := range h.channels[message.Channel] {
		subscribers = append(subscribers, client)
	}
	h.mu.RUnlock()

	for _, client := range subscribers {
		select {
		case client.Send <- msgBytes:
			if h.metrics != nil {
				h.metrics.WebsocketBroadcasts.Inc()
			}
		default:
			// Slow consumer. Drop the connection; the client can
			// reconnect and resubscribe.
			h.removeClient(client)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)

	for channel := range client.Channels {
		if subs, ok := h.channels[channel]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	if h.metrics != nil {
		h.metrics.WebsocketClients.Dec()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
		if h.metrics != nil {
			h.metrics.WebsocketClients.Dec()
		}
	}
	h.channels = make(map[string]map[*Client]bool)
}

// Subscribe adds a client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.Channels[channel] = true
}

// Unsubscribe removes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.channels[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(client.Channels, channel)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WebSocketHandler upgrades connections onto the event feed.
type WebSocketHandler struct {
	hub *Hub
	log logger.Logger
}

// NewWebSocketHandler creates the /ws handler.
func NewWebSocketHandler(hub *Hub, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, log: log}
}

// ServeHTTP handles WebSocket upgrade requests. A workspace query
// parameter subscribes the client immediately; otherwise the client
// sends subscribe frames for the channels it wants.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		Channels: make(map[string]bool),
		Send:     make(chan []byte, 256),
		hub:      h.hub,
	}

	h.hub.register <- client
	if workspaceID := r.URL.Query().Get("workspace"); workspaceID != "" {
		h.hub.Subscribe(client, WorkspaceChannel(workspaceID))
	}

	welcome := Message{
		Type:      MessageTypeEvent,
		Event:     "connected",
		Data:      json.RawMessage(`{"message":"connected to the execution event feed"}`),
		Timestamp: time.Now(),
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.Send <- data
	}

	go client.writePump()
	go client.readPump(h.log)
}

func (c *Client) readPump(log logger.Logger) {
	defer func() {
		c.hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(readLimit)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("websocket read failed", "client_id", c.ID, "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.Channel != "" {
			c.hub.Subscribe(c, msg.Channel)
			c.reply(Message{Type: MessageTypeEvent, Event: "subscribed", Channel: msg.Channel})
		}

	case MessageTypeUnsubscribe:
		if msg.Channel != "" {
			c.hub.Unsubscribe(c, msg.Channel)
			c.reply(Message{Type: MessageTypeEvent, Event: "unsubscribed", Channel: msg.Channel})
		}

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	}
}

func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}
