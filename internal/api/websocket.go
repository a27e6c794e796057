package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-lift/internal/bridges/lift"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/metrics"
)

// Message types exchanged over /ws.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventStateChanged is broadcast after every merged status line.
	EventStateChanged = "lift.state_changed"

	// EventSnapshot is sent once to each client as it connects.
	EventSnapshot = "lift.snapshot"

	// wsSendBufferSize bounds the frames queued for one client.
	wsSendBufferSize = 256
)

// Fallbacks for a zero-valued WebSocketConfig.
const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30
	defaultWSPongTimeout    = 10
)

// WSMessage is the envelope of every frame the server writes.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels of a subscribe or unsubscribe request.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is a frame received from a client. The payload stays raw until
// the message type says how to read it.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans lift state out to WebSocket clients. It implements
// lift.StateListener.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected browser or dashboard.
// New clients start subscribed to EventStateChanged.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	closed        bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware already filtered the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub returns an empty hub. Zero timing fields fall back to defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultWSPongTimeout
	}
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run waits for ctx and then drops every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register starts delivering broadcasts to client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetWebSocketClients(n)
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister stops delivery to client and closes its send queue.
// Calling it more than once is harmless.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	metrics.SetWebSocketClients(n)
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// OnStateChange broadcasts a merged state to EventStateChanged subscribers.
func (h *Hub) OnStateChange(_ context.Context, change lift.StateChange) {
	h.Broadcast(EventStateChanged, lift.NewStateMessage(change))
}

// Broadcast queues an event for every client subscribed to channel. Clients
// whose queue is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	var delivered, skipped int
	for _, c := range h.snapshotClients() {
		if !c.isSubscribed(channel) {
			continue
		}
		if c.trySend(frame) {
			delivered++
		} else {
			skipped++
		}
	}
	if delivered+skipped > 0 {
		h.logger.Debug("websocket event queued", "channel", channel, "delivered", delivered, "skipped", skipped)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshotClients() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.closeSend()
		if c.conn != nil {
			c.conn.Close()
		}
	}
	metrics.SetWebSocketClients(0)
}

func (h *Hub) newClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{EventStateChanged: {}},
	}
}

// handleWebSocket upgrades the request, queues an EventSnapshot of the
// current state and then streams changes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	hub := s.Hub()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := hub.newClient(conn)
	hub.Register(client)

	snapshot := lift.StateMessage{
		LiftID:    s.gateway.LiftID(),
		Timestamp: time.Now().UTC(),
		State:     s.gateway.FullState(),
		Protocol:  lift.Protocol,
	}
	if frame, err := encodeEvent(EventSnapshot, snapshot); err == nil {
		client.trySend(frame)
	}

	go client.writeLoop()
	go client.readLoop()
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// timings returns how often the server pings and how long it waits for any
// inbound frame before giving up on the peer.
func (c *WSClient) timings() (pingEvery, idle time.Duration) {
	pingEvery = time.Duration(c.hub.cfg.PingInterval) * time.Second
	idle = pingEvery + time.Duration(c.hub.cfg.PongTimeout)*time.Second
	return pingEvery, idle
}

// readLoop owns the read side of the connection. When it returns the
// client is unregistered, which also ends writeLoop.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	_, idle := c.timings()
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	c.conn.SetPongHandler(func(string) error { return extend() })
	if err := extend(); err != nil {
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		c.handle(data)
	}
}

// writeLoop drains the send queue and keeps the peer alive with pings.
func (c *WSClient) writeLoop() {
	pingEvery, _ := c.timings()
	writeWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case frame, open := <-c.send:
			if !open {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			err = write(websocket.TextMessage, frame)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// handle answers one client frame.
func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(req.ID, WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &sub); err != nil {
				c.reply(req.ID, WSTypeError, errorBody("invalid subscription payload"))
				return
			}
		}
		add := req.Type == WSTypeSubscribe
		c.setSubscriptions(sub.Channels, add)

		key := "unsubscribed"
		if add {
			key = "subscribed"
		}
		c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func (c *WSClient) setSubscriptions(channels []string, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// trySend queues frame without blocking. It reports false when the client
// is gone or its queue is full.
func (c *WSClient) trySend(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the send queue once. Holding the write lock keeps it
// from racing a concurrent trySend.
func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(frame)
}
