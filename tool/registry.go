package tool

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/pkg/logging"
)

// Registry aggregates tool listings from all connections into one namespace.
// Readers obtain immutable snapshots; publications replace a connection's
// descriptor set atomically and only affect snapshots taken afterwards.
type Registry struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	conns     map[string]Connection
	order     []string // connection ids in first-publication order
	published map[string][]*Descriptor
	suspended map[string]bool
	version   uint64
	snapshot  *Snapshot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		logger:    logging.WithComponent("registry"),
		conns:     make(map[string]Connection),
		published: make(map[string][]*Descriptor),
		suspended: make(map[string]bool),
	}
	r.snapshot = &Snapshot{byName: map[string]*Descriptor{}}
	return r
}

// AddConnection tracks a connection so call dispatch can borrow it by id.
func (r *Registry) AddConnection(conn Connection) error {
	if conn == nil || conn.ID() == "" {
		return fmt.Errorf("connection must have an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID()]; exists {
		return fmt.Errorf("connection %s already registered", conn.ID())
	}
	r.conns[conn.ID()] = conn
	return nil
}

// Connection returns the live connection for an id, if still tracked.
func (r *Registry) Connection(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Connections returns all tracked connections.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Publish atomically replaces the descriptor set owned by a connection.
// Duplicate names inside one publication cannot be namespaced apart and are
// rejected as a registry collision; collisions across connections are
// resolved during snapshot rebuild.
func (r *Registry) Publish(connID string, descs []*Descriptor) error {
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if seen[d.RemoteName] {
			return fmt.Errorf("%w: connection %s lists %q twice", bridgeerrors.ErrRegistryCollision, connID, d.RemoteName)
		}
		seen[d.RemoteName] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.published[connID]; !known {
		r.order = append(r.order, connID)
	}
	r.published[connID] = append([]*Descriptor(nil), descs...)
	r.rebuild()
	return nil
}

// Suspend stops offering a connection's tools in new snapshots without
// forgetting its last-known descriptors. In-flight snapshots are unaffected.
func (r *Registry) Suspend(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspended[connID] {
		return
	}
	r.suspended[connID] = true
	r.rebuild()
}

// Resume re-offers a previously suspended connection's tools.
func (r *Registry) Resume(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.suspended[connID] {
		return
	}
	delete(r.suspended, connID)
	r.rebuild()
}

// Evict removes a connection and its descriptors entirely.
func (r *Registry) Evict(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
	delete(r.published, connID)
	delete(r.suspended, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.rebuild()
}

// Snapshot returns the current immutable registry view. The snapshot stays
// stable for as long as the caller holds it, regardless of later updates.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// rebuild constructs a fresh snapshot. Callers must hold the write lock.
// First publication wins a contested name; the later connection's tool is
// published under a connection-suffixed name, never silently dropped.
func (r *Registry) rebuild() {
	r.version++
	snap := &Snapshot{
		version: r.version,
		byName:  make(map[string]*Descriptor),
	}

	for _, connID := range r.order {
		if r.suspended[connID] {
			continue
		}
		for _, desc := range r.published[connID] {
			name := desc.Name
			if owner, taken := snap.byName[name]; taken {
				if owner.ConnectionID == desc.ConnectionID {
					continue
				}
				name = namespacedName(desc.RemoteName, connID)
				if _, stillTaken := snap.byName[name]; stillTaken {
					r.logger.Warn("dropping tool: namespaced name also collides",
						"tool", desc.RemoteName, "connection", connID)
					continue
				}
				r.logger.Info("tool name collision, namespacing later publication",
					"tool", desc.RemoteName, "connection", connID, "published_as", name)
				desc = desc.renamed(name)
			}
			snap.byName[name] = desc
			snap.tools = append(snap.tools, desc)
		}
	}

	r.snapshot = snap
}

// namespacedName derives a deterministic registry name for the later
// publication in a cross-connection collision.
func namespacedName(remoteName, connID string) string {
	suffix := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			return c
		default:
			return '-'
		}
	}, connID)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return remoteName + "__" + suffix
}

// Snapshot is a stable, ordered view of the registry at one point in time.
type Snapshot struct {
	version uint64
	tools   []*Descriptor
	byName  map[string]*Descriptor
}

// Version identifies the snapshot; higher versions are more recent.
func (s *Snapshot) Version() uint64 { return s.version }

// Len reports the number of published tools.
func (s *Snapshot) Len() int { return len(s.tools) }

// Tools returns the published descriptors in deterministic order. The
// returned slice is shared and must be treated as read-only.
func (s *Snapshot) Tools() []*Descriptor { return s.tools }

// Resolve looks up a descriptor by its registry-wide name.
func (s *Snapshot) Resolve(name string) (*Descriptor, bool) {
	desc, ok := s.byName[name]
	return desc, ok
}

// FunctionSchemas renders every published tool in the completion API's tool
// format, in snapshot order.
func (s *Snapshot) FunctionSchemas() []map[string]any {
	schemas := make([]map[string]any, 0, len(s.tools))
	for _, desc := range s.tools {
		schemas = append(schemas, desc.FunctionSchema())
	}
	return schemas
}
