package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweetpotato0/mcp-bridge/pkg/logging"
)

const (
	defaultGracePeriod = 30 * time.Second
	defaultListTimeout = 15 * time.Second
)

// ManagerOption configures a subscription manager.
type ManagerOption func(*Manager)

// WithGracePeriod sets how long a lost connection's tools stay resolvable
// before being suspended from new snapshots.
func WithGracePeriod(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithListTimeout bounds a single tool re-listing triggered by a
// change notification.
func WithListTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.listTimeout = d
		}
	}
}

// WithManagerLogger overrides the manager's logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager keeps the registry fresh. It runs one watcher per connection that
// consumes tool-list-changed notifications and republishes that connection's
// descriptors; a slow or failing connection never blocks updates from others.
type Manager struct {
	registry    *Registry
	grace       time.Duration
	listTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewManager creates a subscription manager publishing into the registry.
func NewManager(registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:    registry,
		grace:       defaultGracePeriod,
		listTimeout: defaultListTimeout,
		logger:      logging.WithComponent("subscription"),
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe performs the initial tool listing for a connection, publishes it,
// and starts watching for change notifications. A failed initial listing or
// an unresolvable collision is fatal for this connection only.
func (m *Manager) Subscribe(ctx context.Context, conn Connection) error {
	if conn == nil {
		return fmt.Errorf("connection cannot be nil")
	}

	if err := m.registry.AddConnection(conn); err != nil {
		return err
	}
	if err := m.refresh(ctx, conn); err != nil {
		m.registry.Evict(conn.ID())
		return fmt.Errorf("subscribe %s: %w", conn.ID(), err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.registry.Evict(conn.ID())
		return fmt.Errorf("subscription manager is closed")
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	m.cancels[conn.ID()] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(watchCtx, conn)
	return nil
}

// Unsubscribe stops watching a connection and evicts its tools.
func (m *Manager) Unsubscribe(connID string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[connID]; ok {
		cancel()
		delete(m.cancels, connID)
	}
	m.mu.Unlock()
	m.registry.Evict(connID)
}

// Close stops all watchers and closes the subscribed connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()
	m.wg.Wait()

	var firstErr error
	for _, conn := range m.registry.Connections() {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// refresh re-lists a connection's tools and publishes the translated
// descriptors. A tool whose schema fails translation is logged and excluded;
// the rest of the listing still publishes.
func (m *Manager) refresh(ctx context.Context, conn Connection) error {
	listCtx, cancel := context.WithTimeout(ctx, m.listTimeout)
	defer cancel()

	remotes, err := conn.ListTools(listCtx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	descs := make([]*Descriptor, 0, len(remotes))
	for _, remote := range remotes {
		desc, err := Translate(conn.ID(), remote)
		if err != nil {
			m.logger.Warn("excluding tool with untranslatable schema",
				"connection", conn.ID(), "tool", remote.Name, "error", err)
			continue
		}
		descs = append(descs, desc)
	}

	return m.registry.Publish(conn.ID(), descs)
}

func (m *Manager) watch(ctx context.Context, conn Connection) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, conn.ID())
		m.mu.Unlock()
	}()

	changed := conn.ToolsChanged()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			m.handleLoss(ctx, conn)
			return
		case _, ok := <-changed:
			if !ok {
				changed = nil // nil channel blocks; Done handles the rest
				continue
			}
			if err := m.refresh(ctx, conn); err != nil {
				m.logger.Warn("tool refresh failed, keeping previous catalog",
					"connection", conn.ID(), "error", err)
			}
		}
	}
}

// handleLoss applies the degraded-connection policy: the last-known tool list
// stays resolvable for a bounded grace period so in-flight calls can finish,
// then the connection stops being offered in new snapshots, and is evicted
// once the reconnect window passes without the session coming back.
func (m *Manager) handleLoss(ctx context.Context, conn Connection) {
	m.logger.Warn("connection lost, entering grace period",
		"connection", conn.ID(), "grace", m.grace)

	if !m.sleep(ctx, m.grace) {
		return
	}
	m.registry.Suspend(conn.ID())

	if !m.sleep(ctx, m.grace) {
		return
	}
	m.logger.Info("evicting connection after reconnect window", "connection", conn.ID())
	m.registry.Evict(conn.ID())
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
