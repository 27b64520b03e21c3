// Package ws streams committed marketplace events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	sendBufferSize = 256
)

// allKinds subscribes a client to every event kind.
const allKinds = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // event kinds, or allKinds
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change which event
// kinds it receives, e.g. {"action":"subscribe","kinds":["ItemBought"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Kinds  []string `json:"kinds"`
}

// Hub fans envelopes published on the signal bus out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channel    string
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	engine     string
	startedAt  time.Time
}

type broadcastMsg struct {
	kind string
	data []byte
}

// Config captures the bus channel to relay and the metadata sent to clients
// on connect.
type Config struct {
	Channel   string
	Mode      string
	Engine    string
	StartedAt time.Time
}

// NewHub creates a hub that relays cfg.Channel from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		channel:    cfg.Channel,
		logger:     logger,
		mode:       mode,
		engine:     cfg.Engine,
		startedAt:  startedAt,
	}
}

// Run subscribes to the bus and serves registrations and broadcasts until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgCh, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case data, ok := <-msgCh:
			if !ok {
				msgCh = nil
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", h.channel))
				continue
			}
			h.dispatch(data)

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))
		}
	}
}

// dispatch routes one envelope to the clients subscribed to its kind.
func (h *Hub) dispatch(data []byte) {
	var env struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Warn("ws: dropping undecodable message", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(env.Kind) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("kind", env.Kind))
		}
	}
}

// HandleWS upgrades the request and registers the client for every kind.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{allKinds: true},
	}
	c.sendInitialStatus()
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe request. Subscribing
// to specific kinds drops the initial all-kinds subscription.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		if len(msg.Kinds) > 0 {
			delete(c.subs, allKinds)
		}
		for _, k := range msg.Kinds {
			c.subs[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.subs, k)
		}
	}
}

// sendInitialStatus lets clients mark the connection healthy before any
// event arrives.
func (c *client) sendInitialStatus() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	msg, err := json.Marshal(map[string]any{
		"type": "market_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"engine":         c.hub.engine,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allKinds] || c.subs[kind]
}

// writePump writes queued envelopes as text frames and keeps the connection
// alive with pings.
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
