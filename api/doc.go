// Package api provides the HTTP surface of the development relay server.
//
// Endpoints:
//
//   - GET /health - liveness probe
//   - GET /ws/{uuid} - WebSocket upgrade; the socket joins session {uuid}
//   - POST /send/{uuid} - push a frame to every socket of {uuid}
//   - GET /api/session-data/{uuid} - what the relay knows about {uuid}
//   - GET /api/sessions - all known sessions, most recently active first
//   - POST /mcp - MCP JSON-RPC endpoint (when a handler is configured)
//
// Pushing:
//
// The frame comes from the "message" query parameter or a JSON body:
//
//	{"message": "{\"type\":\"notice\",\"payload\":\"hello\"}"}
//
// The server publishes {"target_uuid", "message"} on the relay bus. Every
// server instance subscribed to the bus writes the message verbatim to its
// own sockets for that session, so a push reaches clients no matter which
// instance they are connected to.
//
// Usage:
//
//	hub := websocket.NewHub(websocket.WithObserver(sessions))
//	go hub.Run(ctx)
//
//	server := api.NewServer(hub, sessions, relay.NewLocalBus())
//	if err := server.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer server.Close()
//	http.ListenAndServe(":8000", server)
//
// Errors are returned as JSON with an HTTP status code:
//
//	{"status": "error", "detail": "session not found"}
package api
