// Package store owns the single shared socket of a client and fans inbound
// messages out to subscribers.
//
// A Store combines four concerns:
//   - Lifecycle: at most one transport connection, keyed by a session id
//   - Dispatch: inbound frames are decoded and delivered to the listeners
//     registered for their type, each listener isolated from the others
//   - Projection: the connection status (disconnected, connecting,
//     connected) is observable through Status and WatchStatus
//   - Send: outbound messages are written only while connected; otherwise
//     Send returns ErrNotConnected and nothing is buffered
//
// Transport:
//
// The store never dials on its own. A Dialer opens a connection and reports
// progress asynchronously through the Events it was handed; each connection
// gets its own Events value, so a late close from a replaced connection never
// touches the state of its successor.
//
// Usage:
//
//	s := store.New(websocket.NewDialer(), store.WithBaseURL(cfg.Client.BaseURL))
//	unsubscribe := store.On(s, "chat_message", func(m ChatMessage) {
//		fmt.Println(m.Text)
//	})
//	defer unsubscribe()
//
//	s.Sync("4f1c...")   // record the session and connect
//	err := s.Send("chat_message", ChatMessage{Text: "hola"})
//	if errors.Is(err, store.ErrNotConnected) {
//		// mark the pending message as failed
//	}
//
// Concurrency:
//
// All methods are safe for concurrent use. State is guarded by a mutex;
// listeners and status watchers always run outside of it, so they may call
// back into the store.
package store
