package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/wricardo/sessionsocket/realtime/relay"
	"github.com/wricardo/sessionsocket/realtime/session"
	"github.com/wricardo/sessionsocket/transport/websocket"
)

const maxSendBody = 1 << 20

// Server represents the relay HTTP server
type Server struct {
	hub      *websocket.Hub
	sessions *session.Manager
	bus      relay.Bus
	mcp      http.Handler
	strict   bool
	logger   zerolog.Logger
	router   *mux.Router

	mu          sync.Mutex
	unsubscribe func()
}

// Option configures a Server.
type Option func(*Server)

// WithStrictSessionIDs makes the server reject session ids that are not
// UUIDs.
func WithStrictSessionIDs(strict bool) Option {
	return func(s *Server) {
		s.strict = strict
	}
}

// WithMCPHandler mounts h at POST /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) {
		s.mcp = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new relay server
func NewServer(hub *websocket.Hub, sessions *session.Manager, bus relay.Bus, opts ...Option) *Server {
	s := &Server{
		hub:      hub,
		sessions: sessions,
		bus:      bus,
		logger:   zerolog.Nop(),
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws/{uuid}", s.handleWebSocket)

	// Server push
	s.router.HandleFunc("/send/{uuid}", s.handleSend).Methods("POST")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session-data/{uuid}", s.handleSessionData).Methods("GET")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")

	if s.mcp != nil {
		s.router.Handle("/mcp", s.mcp).Methods("POST")
	}
}

// Start subscribes the server to the relay bus so deliveries reach local
// sockets.
func (s *Server) Start() error {
	unsubscribe, err := s.bus.Subscribe(s.deliver)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return nil
}

// Close stops receiving deliveries from the bus.
func (s *Server) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Server) deliver(d relay.Delivery) {
	if s.hub.ClientCount(d.TargetUUID) == 0 {
		s.logger.Debug().Str("session", d.TargetUUID).Msg("no local sockets for delivery")
		return
	}
	if !s.hub.SendToSession(d.TargetUUID, []byte(d.Message)) {
		s.logger.Warn().Str("session", d.TargetUUID).Msg("hub stopped, delivery dropped")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"status": "error",
		"detail": message,
	})
}

// sessionID extracts and validates the {uuid} route variable.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["uuid"]
	if err := session.ValidateID(id, s.strict); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	// Upgrade to WebSocket
	s.hub.ServeWS(w, r, sessionID)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	message, err := readMessage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := relay.Delivery{TargetUUID: sessionID, Message: message}
	if err := s.bus.Publish(r.Context(), d); err != nil {
		s.logger.Error().Err(err).Str("session", sessionID).Msg("publish failed")
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.sessions.Touch(sessionID)
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "published",
	})
}

// readMessage takes the frame from the "message" query parameter, falling
// back to a JSON body {"message": ...}.
func readMessage(r *http.Request) (string, error) {
	if message := r.URL.Query().Get("message"); message != "" {
		return message, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody))
	if err != nil {
		return "", errors.New("failed to read request")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", errors.New("message is required")
	}

	var req struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", errors.New("body must be a JSON object")
	}
	if req.Message == nil || *req.Message == "" {
		return "", errors.New("message is required")
	}
	return *req.Message, nil
}

// Session Handlers

func (s *Server) handleSessionData(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	info, err := s.sessions.Get(sessionID)
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    info,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	total := len(sessions)

	// Apply limit if specified
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
	})
}
