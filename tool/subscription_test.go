package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	id      string
	changed chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	tools   []RemoteTool
	listErr error
	state   State
	closed  bool
}

func newFakeConn(id string, tools ...RemoteTool) *fakeConn {
	return &fakeConn{
		id:      id,
		tools:   tools,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
		state:   StateReady,
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) ListTools(ctx context.Context) ([]RemoteTool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	return append([]RemoteTool(nil), c.tools...), nil
}

func (c *fakeConn) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	return "ok:" + name, nil
}

func (c *fakeConn) ToolsChanged() <-chan struct{} { return c.changed }
func (c *fakeConn) Done() <-chan struct{}         { return c.done }

func (c *fakeConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.state = StateClosed
		close(c.done)
	}
	return nil
}

func (c *fakeConn) setTools(tools []RemoteTool) {
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
}

func (c *fakeConn) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSubscribePublishesInitialListing(t *testing.T) {
	registry := NewRegistry()
	manager := NewManager(registry)
	defer manager.Close()

	conn := newFakeConn("alpha",
		RemoteTool{Name: "search"},
		RemoteTool{Name: "fetch"},
	)
	if err := manager.Subscribe(context.Background(), conn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	snap := registry.Snapshot()
	if snap.Len() != 2 {
		t.Fatalf("expected initial listing published, got %d tools", snap.Len())
	}
	if _, ok := snap.Resolve("search"); !ok {
		t.Fatalf("initial tool missing from snapshot")
	}
}

func TestSubscribeFailsOnListError(t *testing.T) {
	registry := NewRegistry()
	manager := NewManager(registry)
	defer manager.Close()

	conn := newFakeConn("alpha")
	conn.listErr = errors.New("boom")

	if err := manager.Subscribe(context.Background(), conn); err == nil {
		t.Fatalf("expected subscribe to fail when initial listing fails")
	}
	if _, ok := registry.Connection("alpha"); ok {
		t.Fatalf("failed subscription left connection registered")
	}
}

func TestSubscribeSkipsUntranslatableTools(t *testing.T) {
	registry := NewRegistry()
	manager := NewManager(registry)
	defer manager.Close()

	conn := newFakeConn("alpha",
		RemoteTool{Name: "good"},
		RemoteTool{Name: "bad", InputSchema: map[string]any{"type": "object", "oneOf": []any{}}},
	)
	if err := manager.Subscribe(context.Background(), conn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	snap := registry.Snapshot()
	if snap.Len() != 1 {
		t.Fatalf("expected only translatable tools, got %d", snap.Len())
	}
	if _, ok := snap.Resolve("bad"); ok {
		t.Fatalf("untranslatable tool published")
	}
}

func TestRefreshOnNotification(t *testing.T) {
	registry := NewRegistry()
	manager := NewManager(registry)
	defer manager.Close()

	conn := newFakeConn("alpha", RemoteTool{Name: "search"})
	if err := manager.Subscribe(context.Background(), conn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.setTools([]RemoteTool{{Name: "search"}, {Name: "summarize"}})
	conn.notify()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := registry.Snapshot().Resolve("summarize")
		return ok
	})
}

func TestConnectionLossSuspendsThenEvicts(t *testing.T) {
	registry := NewRegistry()
	manager := NewManager(registry, WithGracePeriod(20*time.Millisecond))
	defer manager.Close()

	conn := newFakeConn("alpha", RemoteTool{Name: "search"})
	if err := manager.Subscribe(context.Background(), conn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// During the grace period the tools stay resolvable.
	conn.Close()
	if _, ok := registry.Snapshot().Resolve("search"); !ok {
		t.Fatalf("tools dropped before grace period expired")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := registry.Snapshot().Resolve("search")
		return !ok
	})
	waitFor(t, 2*time.Second, func() bool {
		_, tracked := registry.Connection("alpha")
		return !tracked
	})
}

func TestManagerCloseClosesConnections(t *testing.T) {
	registry := NewRegistry()
	manager := NewManager(registry)

	conn := newFakeConn("alpha", RemoteTool{Name: "search"})
	if err := manager.Subscribe(context.Background(), conn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if conn.State() != StateClosed {
		t.Fatalf("expected connection closed on manager shutdown, state=%s", conn.State())
	}

	if err := manager.Subscribe(context.Background(), newFakeConn("beta")); err == nil {
		t.Fatalf("expected subscribe after close to fail")
	}
}

func TestUnsubscribeEvictsTools(t *testing.T) {
	registry := NewRegistry()
	manager := NewManager(registry)
	defer manager.Close()

	conn := newFakeConn("alpha", RemoteTool{Name: "search"})
	if err := manager.Subscribe(context.Background(), conn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	manager.Unsubscribe("alpha")
	if registry.Snapshot().Len() != 0 {
		t.Fatalf("unsubscribed connection's tools still published")
	}
}

var _ Connection = (*fakeConn)(nil)

func ExampleRegistry() {
	registry := NewRegistry()
	desc, _ := Translate("demo", RemoteTool{Name: "search", Description: "Search the index"})
	_ = registry.Publish("demo", []*Descriptor{desc})

	snap := registry.Snapshot()
	fmt.Println(snap.Len())
	// Output: 1
}
