package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/wricardo/sessionsocket/realtime/registry"
	"github.com/wricardo/sessionsocket/realtime/session"
	"github.com/wricardo/sessionsocket/realtime/store"
)

const (
	DefaultInboxSize   = 200
	defaultRecentLimit = 20
)

// Store is the part of a realtime store the bridge drives.
type Store interface {
	Status() store.Status
	Session() string
	Endpoint() string
	Sync(id string)
	Send(msgType string, payload any) error
	Subscribe(msgType string, listener registry.Listener) func()
}

// Bridge exposes a Store as MCP tools
type Bridge struct {
	store     Store
	inbox     *Inbox
	logger    zerolog.Logger
	mcpServer *server.MCPServer

	mu      sync.Mutex
	watches map[string]func()
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithInboxSize sets how many watched messages are retained.
func WithInboxSize(n int) Option {
	return func(b *Bridge) {
		b.inbox = NewInbox(n)
	}
}

// WithLogger sets the bridge logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a bridge around s and registers its tools
func NewBridge(s Store, opts ...Option) *Bridge {
	b := &Bridge{
		store:   s,
		inbox:   NewInbox(DefaultInboxSize),
		logger:  zerolog.Nop(),
		watches: make(map[string]func()),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.initMCPServer()
	return b
}

// initMCPServer initializes the MCP server with all tools
func (b *Bridge) initMCPServer() {
	b.mcpServer = server.NewMCPServer(
		"Session Socket",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Session Socket - MCP Interface

Talk to a realtime session over a WebSocket relay. Messages are envelopes
{"type": "...", "payload": ...}.

TYPICAL FLOW:
1. join_session (omit session_id to start a new session)
2. connection_status until the status is "connected"
3. watch_type for every message type you want to read
4. send_message / recent_messages

Sending while not connected fails; nothing is queued for later delivery.`),
	)

	b.registerTools()
}

// registerTools registers all MCP tools
func (b *Bridge) registerTools() {
	b.mcpServer.AddTool(mcp.Tool{
		Name:        "connection_status",
		Description: "Show the current session, connection status and watched message types",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, b.handleConnectionStatus)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "join_session",
		Description: "Follow a session; connects when not already connected",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session to join (optional, a new UUID is generated when empty)",
				},
			},
		},
	}, b.handleJoinSession)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_session",
		Description: "Clear the session and disconnect",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, b.handleLeaveSession)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "send_message",
		Description: "Send an envelope over the live connection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Message type, e.g. chat_message",
				},
				"payload": map[string]interface{}{
					"description": "Any JSON value",
				},
			},
			Required: []string{"type"},
		},
	}, b.handleSendMessage)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "watch_type",
		Description: "Retain inbound messages of a type for recent_messages",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Message type to watch",
				},
			},
			Required: []string{"type"},
		},
	}, b.handleWatchType)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "unwatch_type",
		Description: "Stop retaining inbound messages of a type",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Message type to stop watching",
				},
			},
			Required: []string{"type"},
		},
	}, b.handleUnwatchType)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "recent_messages",
		Description: "Read retained inbound messages, oldest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Only messages of this type (optional)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": fmt.Sprintf("Maximum number of messages (default %d)", defaultRecentLimit),
				},
			},
		},
	}, b.handleRecentMessages)
}

// GetMCPServer returns the underlying MCP server for serving
func (b *Bridge) GetMCPServer() *server.MCPServer {
	return b.mcpServer
}

// ServeStdio serves the tools on stdin/stdout until stdin closes.
func (b *Bridge) ServeStdio() error {
	return server.ServeStdio(b.mcpServer)
}

// HTTPHandler answers MCP JSON-RPC requests posted to it.
func (b *Bridge) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := b.mcpServer.HandleMessage(r.Context(), body)
		if response == nil {
			// Notifications have no response
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
}

// Close stops every watch.
func (b *Bridge) Close() {
	b.mu.Lock()
	watches := b.watches
	b.watches = make(map[string]func())
	b.mu.Unlock()

	for _, unsubscribe := range watches {
		unsubscribe()
	}
}

// Inbox returns the retained messages buffer.
func (b *Bridge) Inbox() *Inbox {
	return b.inbox
}

func (b *Bridge) watched() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]string, 0, len(b.watches))
	for t := range b.watches {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// Tool handlers

func (b *Bridge) handleConnectionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := formatStatus(b.store.Session(), b.store.Endpoint(), b.store.Status(), b.watched(), b.inbox.Len())
	return mcp.NewToolResultText(result), nil
}

func (b *Bridge) handleJoinSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	sessionID = strings.TrimSpace(sessionID)

	if sessionID == "" {
		sessionID = session.NewID()
	} else if err := session.ValidateID(sessionID, false); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	b.store.Sync(sessionID)
	b.logger.Info().Str("session", sessionID).Msg("joined session")

	result := fmt.Sprintf("Joined session: %s\nStatus: %s\n", sessionID, b.store.Status())
	return mcp.NewToolResultText(result), nil
}

func (b *Bridge) handleLeaveSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	previous := b.store.Session()
	b.store.Sync("")

	if previous == "" {
		return mcp.NewToolResultText("No session to leave\n"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Left session: %s\n", previous)), nil
}

func (b *Bridge) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	msgType, _ := args["type"].(string)
	if msgType == "" {
		return mcp.NewToolResultError("type is required"), nil
	}

	if err := b.store.Send(msgType, args["payload"]); err != nil {
		if errors.Is(err, store.ErrNotConnected) {
			return mcp.NewToolResultError(fmt.Sprintf("not connected (status: %s); message was not sent", b.store.Status())), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Sent %s\n", msgType)), nil
}

func (b *Bridge) handleWatchType(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	msgType, _ := args["type"].(string)
	if msgType == "" {
		return mcp.NewToolResultError("type is required"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.watches[msgType]; exists {
		return mcp.NewToolResultText(fmt.Sprintf("Already watching %s\n", msgType)), nil
	}
	b.watches[msgType] = b.store.Subscribe(msgType, func(payload json.RawMessage) {
		b.inbox.Add(Message{
			Type:       msgType,
			Payload:    append(json.RawMessage(nil), payload...),
			ReceivedAt: time.Now(),
		})
	})

	return mcp.NewToolResultText(fmt.Sprintf("Watching %s\n", msgType)), nil
}

func (b *Bridge) handleUnwatchType(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	msgType, _ := args["type"].(string)

	b.mu.Lock()
	unsubscribe, exists := b.watches[msgType]
	delete(b.watches, msgType)
	b.mu.Unlock()

	if !exists {
		return mcp.NewToolResultError(fmt.Sprintf("not watching %q", msgType)), nil
	}
	unsubscribe()
	return mcp.NewToolResultText(fmt.Sprintf("Stopped watching %s\n", msgType)), nil
}

func (b *Bridge) handleRecentMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	msgType, _ := args["type"].(string)

	limit := defaultRecentLimit
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	messages := b.inbox.Recent(msgType, limit)
	return mcp.NewToolResultText(formatMessages(messages)), nil
}

// Formatting helpers

func formatStatus(sessionID, endpoint string, status store.Status, watched []string, retained int) string {
	var sb strings.Builder
	if sessionID == "" {
		sb.WriteString("Session: (none)\n")
	} else {
		sb.WriteString(fmt.Sprintf("Session: %s\n", sessionID))
		sb.WriteString(fmt.Sprintf("Endpoint: %s\n", endpoint))
	}
	sb.WriteString(fmt.Sprintf("Status: %s (%s)\n", status, status.Indicator()))
	if len(watched) == 0 {
		sb.WriteString("Watching: nothing\n")
	} else {
		sb.WriteString(fmt.Sprintf("Watching: %s\n", strings.Join(watched, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Retained messages: %d\n", retained))
	return sb.String()
}

func formatMessages(messages []Message) string {
	if len(messages) == 0 {
		return "No messages\n"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Messages (%d):\n", len(messages)))
	for _, m := range messages {
		payload := string(m.Payload)
		if payload == "" {
			payload = "null"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s %s\n", m.ReceivedAt.Format("15:04:05"), m.Type, payload))
	}
	return sb.String()
}
