package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/wricardo/sessionsocket/realtime/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var errNotOpen = errors.New("websocket: connection not open")

// Dialer opens client connections for a store.
type Dialer struct {
	dialer     *websocket.Dialer
	header     http.Header
	logger     zerolog.Logger
	pingPeriod time.Duration
	pongWait   time.Duration
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithHeader adds request headers to the handshake (auth tokens, origin).
func WithHeader(header http.Header) DialerOption {
	return func(d *Dialer) {
		d.header = header
	}
}

// WithDialerLogger sets the logger for transport diagnostics.
func WithDialerLogger(logger zerolog.Logger) DialerOption {
	return func(d *Dialer) {
		d.logger = logger
	}
}

// WithKeepalive overrides the ping period and pong deadline.
func WithKeepalive(ping, pong time.Duration) DialerOption {
	return func(d *Dialer) {
		if ping > 0 && pong > ping {
			d.pingPeriod = ping
			d.pongWait = pong
		}
	}
}

// NewDialer creates a Dialer backed by gorilla/websocket.
func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger:     zerolog.Nop(),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open starts dialing url and returns the connection handle at once.
func (d *Dialer) Open(url string, ev store.Events) store.Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &clientConn{
		dialer: d,
		events: ev,
		cancel: cancel,
	}
	go c.run(ctx, url)
	return c
}

// clientConn is one client connection. All events are emitted from run.
type clientConn struct {
	dialer *Dialer
	events store.Events
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex // serialises all conn writes (data, ping, close)
}

func (c *clientConn) run(ctx context.Context, url string) {
	logger := c.dialer.logger.With().Str("url", url).Logger()

	conn, _, err := c.dialer.dialer.DialContext(ctx, url, c.dialer.header)
	if err != nil {
		if c.isClosed() {
			c.events.Close(websocket.CloseNormalClosure, "closed before open")
			return
		}
		logger.Debug().Err(err).Msg("dial failed")
		c.events.Error(err)
		c.events.Close(websocket.CloseAbnormalClosure, err.Error())
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		c.events.Close(websocket.CloseNormalClosure, "closed before open")
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.events.Open()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)

	c.readLoop(conn, logger)
}

func (c *clientConn) readLoop(conn *websocket.Conn, logger zerolog.Logger) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.dialer.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.dialer.pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				c.events.Close(closeErr.Code, closeErr.Text)
			case c.isClosed():
				c.events.Close(websocket.CloseNormalClosure, "closed by client")
			default:
				logger.Debug().Err(err).Msg("read failed")
				c.events.Error(err)
				c.events.Close(websocket.CloseAbnormalClosure, err.Error())
			}
			return
		}
		c.events.Message(data)
	}
}

// pingLoop sends periodic pings on the given connection.
func (c *clientConn) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.dialer.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// WriteText sends one text frame.
func (c *clientConn) WriteText(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return errNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure and tears the connection down. A pending dial
// is cancelled.
func (c *clientConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()

	conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (c *clientConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
