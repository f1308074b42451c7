package tool

import (
	"context"
	"fmt"
)

// State tracks the transport state of one tool server connection.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RemoteTool is one raw listing entry returned by a tool server, before
// schema translation.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema map[string]any
	OutputHint  string
}

// Connection is one logical session to a tool provider. Implementations must
// allow concurrent ListTools and Call invocations.
type Connection interface {
	// ID returns the connection identifier, stable for the session lifetime.
	ID() string
	// ListTools returns the full tool catalog currently exposed by the server.
	ListTools(ctx context.Context) ([]RemoteTool, error)
	// Call invokes a remote tool by its server-side name. A failure reported
	// by the tool itself is returned as *CallError; any other error is a
	// transport failure.
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	// ToolsChanged reports tool-list-changed notifications. Connections
	// without live updates return nil.
	ToolsChanged() <-chan struct{}
	// Done is closed when the session ends, cleanly or not.
	Done() <-chan struct{}
	// State returns the current transport state.
	State() State
	// Close releases the session.
	Close() error
}

// CallError reports a failure surfaced by the tool itself: the server ran the
// tool and returned an error result. It is not transient and must not be
// retried.
type CallError struct {
	Tool    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}
