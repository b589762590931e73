// Package websocket provides the gorilla/websocket transports of the
// session socket.
//
// The websocket package implements:
//   - Dialer: the client transport used by realtime/store
//   - Hub: the server side of the development relay
//   - EchoHandler: the relay's reply policy for inbound frames
//
// Client:
//
// Dialer.Open returns immediately and dials in a goroutine. That goroutine
// reports open, message, error and close events for the connection in the
// order they happen, which is what the store relies on. Pings keep the
// connection alive; a missed pong closes it.
//
//	s := store.New(websocket.NewDialer(websocket.WithDialerLogger(logger)))
//
// Server:
//
// The hub uses a hub-and-spoke model keyed by session id. Every socket is
// served by a read pump and a write pump; frames addressed to a session are
// written to all of its sockets.
//
//	hub := websocket.NewHub(websocket.WithHandler(websocket.EchoHandler("Echo: ")))
//	go hub.Run(ctx)
//	router.HandleFunc("/ws/{uuid}", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, mux.Vars(r)["uuid"])
//	})
//
// Connection Lifecycle:
//
// 1. Client connects to /ws/<session-id>
// 2. Connection registered with hub under that session
// 3. Each inbound frame is passed to the handler, whose reply goes back
// 4. Relay deliveries for the session are written to every socket
// 5. Disconnection triggers cleanup; empty sessions are removed
package websocket
