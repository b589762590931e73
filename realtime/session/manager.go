package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("invalid session ID")
)

// Session is a snapshot of what the relay knows about one session.
type Session struct {
	ID        string    `json:"id"`
	Clients   int       `json:"clients"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	FramesIn  int64     `json:"frames_in"`
	FramesOut int64     `json:"frames_out"`
	BytesOut  int64     `json:"bytes_out"`
}

// Manager tracks session activity. It is safe for concurrent use.
type Manager struct {
	sessions map[string]*Session
	now      func() time.Time
	mu       sync.RWMutex
}

// NewManager creates an empty session directory
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidateID checks a session identifier. Strict mode only accepts UUIDs.
func ValidateID(id string, strict bool) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.ContainsAny(id, "/?#") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	if strict {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: %q is not a UUID", ErrInvalidSessionID, id)
		}
	}
	return nil
}

// touchLocked returns the entry for id, creating it on first sight.
func (m *Manager) touchLocked(id string) *Session {
	now := m.now()
	s, exists := m.sessions[id]
	if !exists {
		s = &Session{ID: id, FirstSeen: now}
		m.sessions[id] = s
	}
	s.LastSeen = now
	return s
}

// Touch records activity for id without changing its counters.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(id)
}

// Connected records a socket joining id.
func (m *Manager) Connected(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(id).Clients++
}

// Disconnected records a socket leaving id.
func (m *Manager) Disconnected(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.touchLocked(id)
	if s.Clients > 0 {
		s.Clients--
	}
}

// Inbound counts a frame received from a socket of id.
func (m *Manager) Inbound(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(id).FramesIn++
}

// Outbound counts a frame of n bytes delivered to a socket of id.
func (m *Manager) Outbound(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.touchLocked(id)
	s.FramesOut++
	s.BytesOut += int64(n)
}

// Get returns a copy of the session entry.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[id]
	if !exists {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// List returns copies of all sessions, most recently active first.
func (m *Manager) List() []Session {
	m.mu.RLock()
	result := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, *s)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastSeen.Equal(result[j].LastSeen) {
			return result[i].LastSeen.After(result[j].LastSeen)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// CleanupExpiredSessions removes sessions with no connected sockets that
// have been idle for longer than maxAge
func (m *Manager) CleanupExpiredSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0

	for id, s := range m.sessions {
		if s.Clients == 0 && s.LastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	return removed
}

// Count returns the number of known sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
