package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeProgress  MessageType = "backtest_progress"
	MsgTypeComplete  MessageType = "backtest_complete"
	MsgTypeError     MessageType = "error"
	MsgTypeHeartbeat MessageType = "heartbeat"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is a WebSocket message. Channel carries the backtest ID
// for subscription management and targeted events.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Desktop clients connect from file:// origins.
	},
}

// Client is a WebSocket client connection. Clients with no subscriptions
// receive every event; subscribing narrows delivery to the named channels.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// wants reports whether an event on the given channel should be delivered.
// Events without a channel always go to everyone.
func (c *Client) wants(channel string) bool {
	if channel == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[channel]
}

// event pairs an encoded message with the channel it belongs to so the
// run loop can route it to subscribed clients.
type event struct {
	channel string
	payload []byte
}

// Hub manages WebSocket connections and event fan-out. All client set
// mutation happens on the run loop goroutine.
type Hub struct {
	logger     *zap.Logger
	metrics    *Metrics
	clients    map[*Client]bool
	broadcast  chan event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a hub; call Run on its own goroutine.
func NewHub(logger *zap.Logger, metrics *Metrics) *Hub {
	return &Hub{
		logger:     logger,
		metrics:    metrics,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast events until Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.metrics.ConnectedClients.Set(float64(len(h.clients)))
			h.logger.Info("WebSocket client connected", zap.String("id", client.id))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.ConnectedClients.Set(float64(len(h.clients)))
				h.logger.Info("WebSocket client disconnected", zap.String("id", client.id))
			}

		case ev := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(ev.channel) {
					continue
				}
				select {
				case client.send <- ev.payload:
				default:
					// Slow client; drop it rather than block the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.metrics.ConnectedClients.Set(float64(len(h.clients)))

		case <-h.done:
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			h.clients = make(map[*Client]bool)
			return
		}
	}
}

// Stop closes all connections and ends the run loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast marshals an event and fans it out to clients subscribed to
// the channel (or to all clients with no subscriptions).
func (h *Hub) Broadcast(msgType MessageType, channel string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("Failed to encode event", zap.Error(err))
		return
	}
	payload, err := json.Marshal(WSMessage{
		Type:      msgType,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	select {
	case h.broadcast <- event{channel: channel, payload: payload}:
	default:
		h.logger.Warn("Broadcast buffer full, dropping event", zap.String("type", string(msgType)))
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:            uuid.New().String(),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes client messages until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.mu.Lock()
			c.subscriptions[msg.Channel] = true
			c.mu.Unlock()
		case MsgTypeUnsubscribe:
			c.mu.Lock()
			delete(c.subscriptions, msg.Channel)
			c.mu.Unlock()
		}
	}
}

// writePump sends queued messages and keepalive pings.
func (c *Client) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
