package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wricardo/sessionsocket/realtime/store"
)

// fakeConn records writes; tests fire its events by hand.
type fakeConn struct {
	events store.Events

	mu      sync.Mutex
	written []string
}

func (c *fakeConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error { return nil }

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Open(url string, ev store.Events) store.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{events: ev}
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestBridge(t *testing.T) (*Bridge, *store.Store, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	s := store.New(dialer, store.WithBaseURL("ws://relay.test/ws"))
	b := NewBridge(s, WithInboxSize(10))
	t.Cleanup(b.Close)
	return b, s, dialer
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
	result, err := handler(context.Background(), request)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("%s returned no content", name)
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("%s: expected text content in result", name)
	}
	return text.Text, result.IsError
}

func TestNewBridge(t *testing.T) {
	b, _, _ := newTestBridge(t)

	if b.GetMCPServer() == nil {
		t.Fatal("Expected MCP server to be initialized")
	}
	if b.Inbox().Cap() != 10 {
		t.Errorf("Expected inbox capacity 10, got %d", b.Inbox().Cap())
	}
}

func TestJoinAndLeaveSession(t *testing.T) {
	b, s, dialer := newTestBridge(t)

	text, isErr := callTool(t, b.handleJoinSession, "join_session", map[string]interface{}{"session_id": "abc"})
	if isErr {
		t.Fatalf("join_session failed: %s", text)
	}
	if !strings.Contains(text, "abc") || !strings.Contains(text, "connecting") {
		t.Errorf("Unexpected result: %s", text)
	}
	if s.Session() != "abc" || s.Status() != store.StatusConnecting {
		t.Errorf("Store session=%q status=%v", s.Session(), s.Status())
	}

	dialer.last().events.Open()
	text, _ = callTool(t, b.handleConnectionStatus, "connection_status", nil)
	if !strings.Contains(text, "Status: connected (Online)") || !strings.Contains(text, "ws://relay.test/ws/abc") {
		t.Errorf("Unexpected status: %s", text)
	}

	text, _ = callTool(t, b.handleLeaveSession, "leave_session", nil)
	if !strings.Contains(text, "Left session: abc") {
		t.Errorf("Unexpected result: %s", text)
	}
	if s.Session() != "" || s.Status() != store.StatusDisconnected {
		t.Errorf("Store session=%q status=%v after leave", s.Session(), s.Status())
	}
}

func TestJoinSessionGeneratesID(t *testing.T) {
	b, s, _ := newTestBridge(t)

	callTool(t, b.handleJoinSession, "join_session", map[string]interface{}{})
	if len(s.Session()) != 36 {
		t.Errorf("Expected a generated UUID, got %q", s.Session())
	}
}

func TestJoinSessionRejectsBadID(t *testing.T) {
	b, s, _ := newTestBridge(t)

	_, isErr := callTool(t, b.handleJoinSession, "join_session", map[string]interface{}{"session_id": "a/b"})
	if !isErr {
		t.Error("Expected tool error for invalid session id")
	}
	if s.Session() != "" {
		t.Error("Invalid id should not be recorded")
	}
}

func TestSendMessage(t *testing.T) {
	b, _, dialer := newTestBridge(t)

	t.Run("not connected", func(t *testing.T) {
		text, isErr := callTool(t, b.handleSendMessage, "send_message", map[string]interface{}{
			"type": "chat_message",
		})
		if !isErr || !strings.Contains(text, "not connected") {
			t.Errorf("Expected not connected error, got %s", text)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		_, isErr := callTool(t, b.handleSendMessage, "send_message", map[string]interface{}{})
		if !isErr {
			t.Error("Expected tool error for missing type")
		}
	})

	t.Run("connected", func(t *testing.T) {
		callTool(t, b.handleJoinSession, "join_session", map[string]interface{}{"session_id": "abc"})
		conn := dialer.last()
		conn.events.Open()

		_, isErr := callTool(t, b.handleSendMessage, "send_message", map[string]interface{}{
			"type":    "chat_message",
			"payload": map[string]interface{}{"id": "m1", "text": "hi"},
		})
		if isErr {
			t.Fatal("send_message failed")
		}

		conn.mu.Lock()
		defer conn.mu.Unlock()
		if len(conn.written) != 1 {
			t.Fatalf("Expected 1 frame, got %d", len(conn.written))
		}
		var env map[string]interface{}
		json.Unmarshal([]byte(conn.written[0]), &env)
		payload, _ := env["payload"].(map[string]interface{})
		if env["type"] != "chat_message" || payload["text"] != "hi" {
			t.Errorf("Unexpected frame %s", conn.written[0])
		}
	})
}

func TestWatchAndRecentMessages(t *testing.T) {
	b, s, dialer := newTestBridge(t)

	s.Sync("abc")
	conn := dialer.last()
	conn.events.Open()

	callTool(t, b.handleWatchType, "watch_type", map[string]interface{}{"type": "chat_message"})
	text, _ := callTool(t, b.handleWatchType, "watch_type", map[string]interface{}{"type": "chat_message"})
	if !strings.Contains(text, "Already watching") {
		t.Errorf("Unexpected result: %s", text)
	}
	if s.Listeners("chat_message") != 1 {
		t.Errorf("Expected 1 listener, got %d", s.Listeners("chat_message"))
	}

	conn.events.Message([]byte(`{"type":"chat_message","payload":{"text":"one"}}`))
	conn.events.Message([]byte(`{"type":"presence","payload":{"who":"x"}}`))
	conn.events.Message([]byte(`{"type":"chat_message","payload":{"text":"two"}}`))

	text, _ = callTool(t, b.handleRecentMessages, "recent_messages", map[string]interface{}{"limit": float64(1)})
	if !strings.Contains(text, "Messages (1)") || !strings.Contains(text, `"two"`) {
		t.Errorf("Unexpected messages: %s", text)
	}
	text, _ = callTool(t, b.handleRecentMessages, "recent_messages", nil)
	if strings.Contains(text, "presence") || !strings.Contains(text, `"one"`) {
		t.Errorf("Unexpected messages: %s", text)
	}

	callTool(t, b.handleUnwatchType, "unwatch_type", map[string]interface{}{"type": "chat_message"})
	if s.Listeners("chat_message") != 0 {
		t.Error("unwatch_type should remove the listener")
	}
	_, isErr := callTool(t, b.handleUnwatchType, "unwatch_type", map[string]interface{}{"type": "chat_message"})
	if !isErr {
		t.Error("Expected error when not watching")
	}
}

func TestCloseStopsWatches(t *testing.T) {
	b, s, _ := newTestBridge(t)

	callTool(t, b.handleWatchType, "watch_type", map[string]interface{}{"type": "a"})
	callTool(t, b.handleWatchType, "watch_type", map[string]interface{}{"type": "b"})
	b.Close()

	if s.Listeners("a") != 0 || s.Listeners("b") != 0 {
		t.Error("Close() should remove every watch listener")
	}
}

func TestHTTPHandler(t *testing.T) {
	b, _, _ := newTestBridge(t)
	handler := b.HTTPHandler()

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/mcp", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", w.Code)
		}
	})

	t.Run("tools list", func(t *testing.T) {
		initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(initBody)))
		if w.Code != http.StatusOK {
			t.Fatalf("initialize: status %d", w.Code)
		}

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)))
		if w.Code != http.StatusOK {
			t.Fatalf("tools/list: status %d", w.Code)
		}
		for _, name := range []string{"connection_status", "join_session", "send_message", "recent_messages"} {
			if !strings.Contains(w.Body.String(), name) {
				t.Errorf("tools/list missing %s: %s", name, w.Body.String())
			}
		}
	})
}

func TestFormatStatus(t *testing.T) {
	text := formatStatus("", "", store.StatusDisconnected, nil, 0)
	if !strings.Contains(text, "Session: (none)") || !strings.Contains(text, "disconnected (Offline)") {
		t.Errorf("Unexpected status text: %s", text)
	}
}
