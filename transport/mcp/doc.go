// Package mcp exposes a realtime store to AI agents over the Model Context
// Protocol.
//
// A Bridge wraps a store and registers these tools:
//   - connection_status: session, status and watched message types
//   - join_session: follow a session (connects when idle)
//   - leave_session: clear the session and disconnect
//   - send_message: send an envelope {type, payload}
//   - watch_type: start retaining inbound messages of a type
//   - unwatch_type: stop retaining a type
//   - recent_messages: read retained messages, newest last
//
// Inbound messages of watched types are kept in a bounded Inbox; when it is
// full the oldest message is dropped.
//
// Transport Modes:
//   - Stdio: Bridge.ServeStdio for local MCP clients
//   - HTTP: Bridge.HTTPHandler, mounted at POST /mcp by the relay server
//
// Usage:
//
//	s := store.New(websocket.NewDialer(), store.WithBaseURL(baseURL))
//	bridge := mcp.NewBridge(s)
//	defer bridge.Close()
//	if err := bridge.ServeStdio(); err != nil {
//		log.Fatal(err)
//	}
package mcp
