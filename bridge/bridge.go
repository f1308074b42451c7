// Package bridge runs the orchestration loop that lets a chat-completion
// client use tools served by MCP servers: it injects the registry's tool
// schemas into each request, fans the model's tool calls out through the
// dispatcher, and resubmits the grown conversation until the model answers
// without tool calls or a budget runs out.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/mcp-bridge/config"
	"github.com/sweetpotato0/mcp-bridge/dispatch"
	"github.com/sweetpotato0/mcp-bridge/message"
	"github.com/sweetpotato0/mcp-bridge/pkg/logging"
	"github.com/sweetpotato0/mcp-bridge/pkg/telemetry"
	"github.com/sweetpotato0/mcp-bridge/tool"
	toolmcp "github.com/sweetpotato0/mcp-bridge/tool/mcp"
	"github.com/sweetpotato0/mcp-bridge/transcript"
	"go.opentelemetry.io/otel/trace"
)

// State enumerates the phases of one bridge invocation.
type State int

const (
	StateAwaitingCompletion State = iota
	StateAwaitingToolResults
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateAwaitingToolResults:
		return "awaiting_tool_results"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TokenCounter estimates token usage of text, used by the optional token
// budget guard.
type TokenCounter interface {
	CountTokens(text string) int
}

// Result is what one invocation produces: either a final assistant answer
// with the full transcript, or the transcript up to the abort point together
// with an abort error from CreateCompletion.
type Result struct {
	// Message is the final assistant answer; nil when the invocation aborted.
	Message *message.Message
	// Transcript is the complete accumulated conversation, including every
	// tool call and tool result, in order.
	Transcript []*message.Message
	// Turns counts completed tool-call rounds.
	Turns int
	// State is StateDone or StateAborted.
	State State
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConfig applies a whole BridgeConfig at once.
func WithConfig(cfg config.BridgeConfig) Option {
	return func(b *Bridge) {
		b.cfg = cfg
	}
}

// WithStrict toggles schema validation before dispatch.
func WithStrict(strict bool) Option {
	return func(b *Bridge) {
		b.cfg.Strict = strict
	}
}

// WithMaxIterations bounds the number of tool-call rounds per invocation.
func WithMaxIterations(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.cfg.MaxIterations = n
		}
	}
}

// WithConcurrency caps concurrent tool calls within one assistant turn.
func WithConcurrency(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.cfg.Concurrency = n
		}
	}
}

// WithCallTimeout bounds a single tool invocation.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.cfg.CallTimeout = d
		}
	}
}

// WithMaxRetries allows retrying tool calls on transport errors.
func WithMaxRetries(n int) Option {
	return func(b *Bridge) {
		if n >= 0 {
			b.cfg.MaxRetries = n
		}
	}
}

// WithInvocationBudget bounds the wall-clock time of one invocation,
// independent of the iteration budget.
func WithInvocationBudget(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.cfg.InvocationBudget = d
		}
	}
}

// WithDispatcher injects a pre-built dispatcher, overriding the one the
// bridge would construct from its config.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(b *Bridge) {
		b.dispatcher = d
	}
}

// WithTranscriptStore persists each invocation's transcript, best effort.
func WithTranscriptStore(store transcript.Store) Option {
	return func(b *Bridge) {
		b.store = store
	}
}

// WithTokenBudget aborts an invocation once the conversation exceeds max
// tokens as measured by the counter. Zero max disables the guard.
func WithTokenBudget(counter TokenCounter, max int) Option {
	return func(b *Bridge) {
		b.tokenCounter = counter
		b.tokenBudget = max
	}
}

// WithLogger overrides the bridge's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// Bridge wires a completion client to a tool registry. Construct one per
// configuration; a single Bridge handles concurrent invocations, each with
// its own conversation state.
type Bridge struct {
	client     CompletionClient
	registry   *tool.Registry
	dispatcher *dispatch.Dispatcher
	cfg        config.BridgeConfig

	store        transcript.Store
	tokenCounter TokenCounter
	tokenBudget  int

	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a bridge over an existing registry. The registry is shared:
// several bridges may read it while a subscription manager updates it.
func New(client CompletionClient, registry *tool.Registry, opts ...Option) (*Bridge, error) {
	if client == nil {
		return nil, fmt.Errorf("bridge: completion client cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("bridge: registry cannot be nil")
	}

	b := &Bridge{
		client:   client,
		registry: registry,
		cfg:      config.DefaultBridgeConfig(),
		logger:   logging.WithComponent("bridge"),
		tracer:   telemetry.Tracer("mcp-bridge/bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	if b.dispatcher == nil {
		b.dispatcher = dispatch.New(registry,
			dispatch.WithStrict(b.cfg.Strict),
			dispatch.WithTimeout(b.cfg.CallTimeout),
			dispatch.WithMaxRetries(b.cfg.MaxRetries),
		)
	}
	return b, nil
}

// NewFromServers dials every declared tool server, subscribes the registry to
// their catalogs, and returns a ready bridge plus a shutdown function that
// stops the watchers and closes the connections. A server that cannot be
// dialed or listed fails the whole construction.
func NewFromServers(ctx context.Context, client CompletionClient, servers []config.ServerConfig, opts ...Option) (*Bridge, func() error, error) {
	registry := tool.NewRegistry()
	manager := tool.NewManager(registry)

	for _, server := range servers {
		conn, err := toolmcp.Dial(ctx, server)
		if err != nil {
			_ = manager.Close()
			return nil, nil, fmt.Errorf("bridge: dial %s: %w", server.Name, err)
		}
		if err := manager.Subscribe(ctx, conn); err != nil {
			_ = conn.Close()
			_ = manager.Close()
			return nil, nil, err
		}
	}

	b, err := New(client, registry, opts...)
	if err != nil {
		_ = manager.Close()
		return nil, nil, err
	}
	return b, manager.Close, nil
}
