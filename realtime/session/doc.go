// Package session keeps the directory of sessions seen by the relay server.
//
// A session is the channel identifier a client appends to the relay URL.
// The relay only routes frames by it; the directory records what the relay
// observed for each one:
//   - number of sockets currently connected
//   - first and last activity
//   - frames received and frames (and bytes) delivered
//
// Manager implements the websocket hub's Observer interface, so wiring it is
// a single option:
//
//	sessions := session.NewManager()
//	hub := websocket.NewHub(websocket.WithObserver(sessions))
//
//	info, err := sessions.Get(id)
//	if errors.Is(err, session.ErrSessionNotFound) {
//		...
//	}
//
// Sessions without connected sockets expire through CleanupExpiredSessions.
package session
