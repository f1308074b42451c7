package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/message"
	"github.com/sweetpotato0/mcp-bridge/tool"
)

type stubConn struct {
	id     string
	callFn func(ctx context.Context, name string, args map[string]any) (string, error)

	mu    sync.Mutex
	calls int
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) ListTools(ctx context.Context) ([]tool.RemoteTool, error) { return nil, nil }

func (c *stubConn) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.callFn(ctx, name, args)
}

func (c *stubConn) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *stubConn) ToolsChanged() <-chan struct{} { return nil }
func (c *stubConn) Done() <-chan struct{}         { return nil }
func (c *stubConn) State() tool.State             { return tool.StateReady }
func (c *stubConn) Close() error                  { return nil }

var _ tool.Connection = (*stubConn)(nil)

// newTestRegistry publishes one "search" tool owned by the stub connection.
func newTestRegistry(t *testing.T, conn *stubConn) *tool.Registry {
	t.Helper()
	registry := tool.NewRegistry()
	if err := registry.AddConnection(conn); err != nil {
		t.Fatalf("add connection: %v", err)
	}
	desc, err := tool.Translate(conn.ID(), tool.RemoteTool{
		Name: "search",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if err := registry.Publish(conn.ID(), []*tool.Descriptor{desc}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return registry
}

func TestInvokeUnknownTool(t *testing.T) {
	conn := &stubConn{id: "alpha", callFn: func(context.Context, string, map[string]any) (string, error) {
		return "", nil
	}}
	registry := newTestRegistry(t, conn)
	d := New(registry)

	res := d.Invoke(context.Background(), registry.Snapshot(), message.ToolCall{
		ID: "call-1", Name: "no_such_tool", Arguments: "{}",
	})
	if res.Status != StatusUnknownTool {
		t.Fatalf("expected unknown_tool, got %s", res.Status)
	}
	if !errors.Is(res.Err, bridgeerrors.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", res.Err)
	}
	if conn.callCount() != 0 {
		t.Fatalf("unknown tool must never reach a connection")
	}
}

func TestInvokeStrictSchemaViolation(t *testing.T) {
	conn := &stubConn{id: "alpha", callFn: func(context.Context, string, map[string]any) (string, error) {
		return "should not run", nil
	}}
	registry := newTestRegistry(t, conn)
	d := New(registry, WithStrict(true))

	res := d.Invoke(context.Background(), registry.Snapshot(), message.ToolCall{
		ID: "call-1", Name: "search", Arguments: `{"query":42}`,
	})
	if res.Status != StatusSchemaViolation {
		t.Fatalf("expected schema_violation, got %s", res.Status)
	}
	if conn.callCount() != 0 {
		t.Fatalf("strict violation must be rejected without contacting the server")
	}
}

func TestInvokeNonStrictForwards(t *testing.T) {
	var got map[string]any
	conn := &stubConn{id: "alpha", callFn: func(_ context.Context, _ string, args map[string]any) (string, error) {
		got = args
		return "forwarded", nil
	}}
	registry := newTestRegistry(t, conn)
	d := New(registry)

	res := d.Invoke(context.Background(), registry.Snapshot(), message.ToolCall{
		ID: "call-1", Name: "search", Arguments: `{"query":42}`,
	})
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}
	if got["query"] != float64(42) {
		t.Fatalf("arguments not forwarded verbatim: %v", got)
	}
}

func TestInvokeUnparseableArguments(t *testing.T) {
	conn := &stubConn{id: "alpha", callFn: func(context.Context, string, map[string]any) (string, error) {
		return "", nil
	}}
	registry := newTestRegistry(t, conn)
	d := New(registry)

	res := d.Invoke(context.Background(), registry.Snapshot(), message.ToolCall{
		ID: "call-1", Name: "search", Arguments: `{"query":`,
	})
	if res.Status != StatusToolError {
		t.Fatalf("expected tool_error for unparseable arguments, got %s", res.Status)
	}
	if conn.callCount() != 0 {
		t.Fatalf("unparseable arguments must not be forwarded")
	}
}

func TestInvokeToolErrorNotRetried(t *testing.T) {
	conn := &stubConn{id: "alpha", callFn: func(_ context.Context, name string, _ map[string]any) (string, error) {
		return "", &tool.CallError{Tool: name, Message: "index unavailable"}
	}}
	registry := newTestRegistry(t, conn)
	d := New(registry, WithMaxRetries(3))

	res := d.Invoke(context.Background(), registry.Snapshot(), message.ToolCall{
		ID: "call-1", Name: "search", Arguments: `{"query":"go"}`,
	})
	if res.Status != StatusToolError {
		t.Fatalf("expected tool_error, got %s", res.Status)
	}
	if !errors.Is(res.Err, bridgeerrors.ErrToolFailed) {
		t.Fatalf("expected ErrToolFailed, got %v", res.Err)
	}
	if conn.callCount() != 1 {
		t.Fatalf("tool-level failure retried %d times", conn.callCount()-1)
	}
}

func TestInvokeRetriesTransportErrors(t *testing.T) {
	conn := &stubConn{id: "alpha"}
	conn.callFn = func(context.Context, string, map[string]any) (string, error) {
		if conn.callCount() == 1 {
			return "", errors.New("connection reset")
		}
		return "recovered", nil
	}
	registry := newTestRegistry(t, conn)
	d := New(registry, WithMaxRetries(2))

	res := d.Invoke(context.Background(), registry.Snapshot(), message.ToolCall{
		ID: "call-1", Name: "search", Arguments: `{"query":"go"}`,
	})
	if res.Status != StatusSuccess {
		t.Fatalf("expected success after retry, got %s (%v)", res.Status, res.Err)
	}
	if res.Content != "recovered" {
		t.Fatalf("unexpected content %q", res.Content)
	}
	if conn.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", conn.callCount())
	}
}

func TestInvokeTimeout(t *testing.T) {
	conn := &stubConn{id: "alpha", callFn: func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	registry := newTestRegistry(t, conn)
	d := New(registry, WithTimeout(20*time.Millisecond))

	res := d.Invoke(context.Background(), registry.Snapshot(), message.ToolCall{
		ID: "call-1", Name: "search", Arguments: `{"query":"go"}`,
	})
	if res.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %s (%v)", res.Status, res.Err)
	}
	if !errors.Is(res.Err, bridgeerrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", res.Err)
	}
}

func TestResultMessageEncodesFailure(t *testing.T) {
	res := Result{
		CallID:   "call-1",
		ToolName: "search",
		Status:   StatusToolError,
		Err:      errors.New("index unavailable"),
	}

	msg := res.Message()
	if msg.Role != message.RoleTool {
		t.Fatalf("expected tool role, got %s", msg.Role)
	}
	if msg.ToolCallID != "call-1" {
		t.Fatalf("result not correlated with call id")
	}

	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Tool    string `json:"tool"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if payload.Error.Type != "tool_error" || payload.Error.Tool != "search" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if !strings.Contains(payload.Error.Message, "index unavailable") {
		t.Fatalf("failure detail lost: %q", payload.Error.Message)
	}
}

func TestResultMessageSuccess(t *testing.T) {
	res := Result{CallID: "call-1", ToolName: "search", Status: StatusSuccess, Content: "3 results"}
	msg := res.Message()
	if msg.Content != "3 results" {
		t.Fatalf("success content mangled: %q", msg.Content)
	}
	if msg.ToolName != "search" {
		t.Fatalf("tool name missing from result message")
	}
}
