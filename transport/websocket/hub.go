package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		return true
	},
}

// InboundHandler processes a frame received from a socket of sessionID and
// returns the reply to send back to that socket, or nil for none.
type InboundHandler func(sessionID string, data []byte) []byte

// Observer is told about socket activity, e.g. to keep a session directory.
type Observer interface {
	Connected(sessionID string)
	Disconnected(sessionID string)
	Inbound(sessionID string)
	Outbound(sessionID string, n int)
}

// Client represents a WebSocket client
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// delivery is a frame addressed to a whole session or to a single client.
type delivery struct {
	sessionID string
	client    *Client
	data      []byte
}

// Hub maintains the set of active clients per session
type Hub struct {
	// Registered clients by session ID
	mu       sync.RWMutex
	sessions map[string]map[*Client]bool

	// Outbound frames
	deliver chan delivery

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done     chan struct{}
	stopOnce sync.Once

	handler  InboundHandler
	observer Observer
	logger   zerolog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHandler sets the inbound frame handler.
func WithHandler(handler InboundHandler) HubOption {
	return func(h *Hub) {
		h.handler = handler
	}
}

// WithObserver sets the activity observer.
func WithObserver(observer Observer) HubOption {
	return func(h *Hub) {
		h.observer = observer
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates a new WebSocket hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sessions:   make(map[string]map[*Client]bool),
		deliver:    make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's event loop. It returns when ctx is done, after
// closing every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case d := <-h.deliver:
			h.deliverMessage(d)

		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.closeAll()
			return
		}
	}
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// SendToSession queues data for every client connected to sessionID. It
// returns false once the hub has stopped.
func (h *Hub) SendToSession(sessionID string, data []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.deliver <- delivery{sessionID: sessionID, data: data}:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of sockets connected for sessionID.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SessionIDs returns the sessions with at least one connected socket.
func (h *Hub) SessionIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	return ids
}

// registerClient adds a client to a session
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.sessions[client.sessionID] == nil {
		h.sessions[client.sessionID] = make(map[*Client]bool)
	}
	h.sessions[client.sessionID][client] = true
	total := len(h.sessions[client.sessionID])
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.Connected(client.sessionID)
	}
	h.logger.Info().
		Str("session", client.sessionID).
		Int("clients", total).
		Msg("client registered")
}

// unregisterClient removes a client from a session
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.sessions[client.sessionID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	close(client.send)

	// Clean up empty sessions
	if len(clients) == 0 {
		delete(h.sessions, client.sessionID)
	}
	remaining := len(clients)
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.Disconnected(client.sessionID)
	}
	h.logger.Info().
		Str("session", client.sessionID).
		Int("remaining", remaining).
		Msg("client unregistered")
}

// deliverMessage writes a frame to its target client or session
func (h *Hub) deliverMessage(d delivery) {
	var targets []*Client

	h.mu.RLock()
	if d.client != nil {
		if h.sessions[d.client.sessionID][d.client] {
			targets = append(targets, d.client)
		}
	} else {
		for client := range h.sessions[d.sessionID] {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- d.data:
			if h.observer != nil {
				h.observer.Outbound(client.sessionID, len(d.data))
			}
		default:
			// Client's send channel is full, close it
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var clients []*Client
	for _, set := range h.sessions {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
}

// readPump pumps frames from the WebSocket connection to the handler
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("session", c.sessionID).Msg("websocket error")
			}
			break
		}

		if c.hub.observer != nil {
			c.hub.observer.Inbound(c.sessionID)
		}
		if c.hub.handler == nil {
			continue
		}
		if reply := c.hub.handler(c.sessionID, data); reply != nil {
			select {
			case c.hub.deliver <- delivery{client: c, data: reply}:
			case <-c.hub.done:
				return
			}
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One envelope per frame
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
