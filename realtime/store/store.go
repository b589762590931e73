package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wricardo/sessionsocket/realtime/config"
	"github.com/wricardo/sessionsocket/realtime/envelope"
	"github.com/wricardo/sessionsocket/realtime/registry"
)

// ErrNotConnected is returned by Send while the status is not connected.
var ErrNotConnected = errors.New("not connected")

// connection is one transport connection owned by the store.
type connection struct {
	id   uint64
	conn Conn
}

// Store manages the shared connection, subscriptions and status.
type Store struct {
	baseURL string
	dialer  Dialer
	logger  zerolog.Logger

	listeners *registry.Registry

	mu      sync.Mutex
	session string
	current *connection
	status  Status
	nextID  uint64

	// pending holds status transitions in the order they happened until
	// the draining caller hands them to the watchers.
	pending  []Status
	draining bool

	watchMu  sync.Mutex
	watchID  uint64
	watchers map[uint64]func(Status)
}

// Option configures a Store.
type Option func(*Store)

// WithBaseURL sets the endpoint prefix; the session id is appended to it.
func WithBaseURL(baseURL string) Option {
	return func(s *Store) {
		if baseURL != "" {
			s.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a disconnected store without a session.
func New(dialer Dialer, opts ...Option) *Store {
	s := &Store{
		baseURL:   config.DefaultBaseURL,
		dialer:    dialer,
		logger:    zerolog.Nop(),
		listeners: registry.New(),
		watchers:  make(map[uint64]func(Status)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "store").Logger()
	return s
}

// Status returns the current connection status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Session returns the recorded session id ("" when none).
func (s *Store) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Endpoint returns the address a connection for the current session would use.
func (s *Store) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint(s.session)
}

func (s *Store) endpoint(session string) string {
	if session == "" {
		return ""
	}
	return s.baseURL + "/" + url.PathEscape(session)
}

// SetSession records a new session id. When the id changes while a
// connection exists, that connection is torn down first. SetSession never
// connects.
func (s *Store) SetSession(id string) {
	s.mu.Lock()
	var closing *connection
	if id != s.session && s.current != nil {
		s.logger.Info().
			Str("from", s.session).
			Str("to", id).
			Msg("session changed, disconnecting")
		closing = s.detachLocked()
	}
	s.session = id
	s.mu.Unlock()

	s.finishDetach(closing)
}

// Connect opens a connection for the recorded session. It does nothing if a
// connection exists, an attempt is in progress or no session is set.
func (s *Store) Connect() {
	s.mu.Lock()
	if s.session == "" {
		s.mu.Unlock()
		s.logger.Warn().Msg("cannot connect without a session")
		return
	}
	if s.current != nil || s.status != StatusDisconnected {
		status := s.status
		s.mu.Unlock()
		s.logger.Warn().Str("status", status.String()).Msg("connection already exists or is in progress")
		return
	}

	s.nextID++
	c := &connection{id: s.nextID}
	s.current = c
	s.setStatusLocked(StatusConnecting)
	endpoint := s.endpoint(s.session)

	s.logger.Debug().Str("url", endpoint).Uint64("conn", c.id).Msg("connecting")
	// Dialers report asynchronously, so opening under the lock is safe and
	// keeps Disconnect from observing a connection without its Conn.
	c.conn = s.dialer.Open(endpoint, &connEvents{store: s, conn: c})
	s.mu.Unlock()

	s.flushStatus()
}

// Disconnect closes the current connection, if any, and immediately reports
// the store as disconnected without waiting for the transport's close event.
func (s *Store) Disconnect() {
	s.mu.Lock()
	closing := s.detachLocked()
	s.mu.Unlock()

	s.finishDetach(closing)
}

// detachLocked drops the current connection and forces the disconnected
// status. The caller must hold s.mu and pass the result to finishDetach.
func (s *Store) detachLocked() *connection {
	closing := s.current
	s.current = nil
	s.setStatusLocked(StatusDisconnected)
	return closing
}

func (s *Store) finishDetach(closing *connection) {
	if closing != nil && closing.conn != nil {
		s.logger.Debug().Uint64("conn", closing.id).Msg("closing connection")
		if err := closing.conn.Close(); err != nil {
			s.logger.Error().Err(err).Uint64("conn", closing.id).Msg("close failed")
		}
	}
	s.flushStatus()
}

// Sync makes the store follow the given session: it records the id, connects
// when a session is set and the store is idle, and disconnects when the
// session is cleared.
func (s *Store) Sync(id string) {
	if id != s.Session() {
		s.SetSession(id)
	}

	status := s.Status()
	switch {
	case id != "" && status == StatusDisconnected:
		s.Connect()
	case id == "" && status != StatusDisconnected:
		s.Disconnect()
	}
}

// Send encodes and writes a message. It returns ErrNotConnected unless the
// status is connected; nothing is queued for later delivery.
func (s *Store) Send(msgType string, payload any) error {
	s.mu.Lock()
	if s.status != StatusConnected || s.current == nil {
		s.mu.Unlock()
		s.logger.Error().Str("type", msgType).Msg("not connected, cannot send")
		return ErrNotConnected
	}
	c := s.current
	s.mu.Unlock()

	data, err := envelope.Encode(msgType, payload)
	if err != nil {
		return err
	}

	s.logger.Debug().Str("type", msgType).Uint64("conn", c.id).Msg("sending")
	if err := c.conn.WriteText(data); err != nil {
		return fmt.Errorf("send %q: %w", msgType, err)
	}
	return nil
}

// Subscribe registers listener for msgType and returns its unsubscribe
// function.
func (s *Store) Subscribe(msgType string, listener registry.Listener) func() {
	s.logger.Debug().Str("type", msgType).Msg("listener subscribed")
	return s.listeners.Subscribe(msgType, listener)
}

// On subscribes a listener that receives the payload narrowed to T. Payloads
// that do not fit T are logged and skipped for this listener only.
func On[T any](s *Store, msgType string, fn func(T)) func() {
	return s.Subscribe(msgType, func(payload json.RawMessage) {
		v, err := envelope.Unmarshal[T](envelope.Envelope{Type: msgType, Payload: payload})
		if err != nil {
			s.logger.Error().Err(err).Str("type", msgType).Msg("payload does not match listener type")
			return
		}
		fn(v)
	})
}

// Listeners returns the number of listeners registered for msgType.
func (s *Store) Listeners(msgType string) int {
	return s.listeners.Len(msgType)
}

// WatchStatus calls fn on every status transition. Transitions are delivered
// one at a time in the order they happened, so fn never runs concurrently
// with itself and the last value it sees is the current status. fn may call
// back into the store; transitions it causes are delivered after fn returns.
// The returned function stops the notifications.
func (s *Store) WatchStatus(fn func(Status)) func() {
	s.watchMu.Lock()
	s.watchID++
	id := s.watchID
	s.watchers[id] = fn
	s.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

// setStatusLocked records a transition for delivery. The caller must hold
// s.mu and call flushStatus after releasing it.
func (s *Store) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	s.status = status
	s.pending = append(s.pending, status)
}

// flushStatus delivers pending transitions. Only one caller drains at a
// time; others return and leave their transitions to it.
func (s *Store) flushStatus() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		status := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.notify(status)

		s.mu.Lock()
	}
	s.draining = false
	s.pending = nil
	s.mu.Unlock()
}

func (s *Store) notify(status Status) {
	s.watchMu.Lock()
	watchers := make([]func(Status), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range watchers {
		fn(status)
	}
}

// isCurrent reports whether c is still the store's connection.
func (s *Store) isCurrent(c *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == c
}

// connEvents binds transport events to the connection they belong to.
type connEvents struct {
	store *Store
	conn  *connection
}

func (e *connEvents) Open() {
	s := e.store
	s.mu.Lock()
	if s.current != e.conn {
		s.mu.Unlock()
		s.logger.Debug().Uint64("conn", e.conn.id).Msg("ignoring open of stale connection")
		return
	}
	s.setStatusLocked(StatusConnected)
	s.mu.Unlock()

	s.logger.Info().Uint64("conn", e.conn.id).Msg("connected")
	s.flushStatus()
}

func (e *connEvents) Close(code int, reason string) {
	s := e.store
	s.mu.Lock()
	if s.current != e.conn {
		s.mu.Unlock()
		s.logger.Debug().Uint64("conn", e.conn.id).Int("code", code).Msg("ignoring close of stale connection")
		return
	}
	s.current = nil
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.logger.Info().Uint64("conn", e.conn.id).Int("code", code).Str("reason", reason).Msg("disconnected")
	s.flushStatus()
}

func (e *connEvents) Error(err error) {
	// Status settles on the close event that follows.
	e.store.logger.Error().Err(err).Uint64("conn", e.conn.id).Msg("transport error")
}

func (e *connEvents) Message(data []byte) {
	if !e.store.isCurrent(e.conn) {
		e.store.logger.Debug().Uint64("conn", e.conn.id).Msg("dropping message from stale connection")
		return
	}
	e.store.dispatch(data)
}
