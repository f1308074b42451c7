// Package mcp implements tool.Connection on top of the official MCP Go SDK,
// supporting the stdio command transport and the streamable HTTP transport.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/mcp-bridge/config"
	"github.com/sweetpotato0/mcp-bridge/pkg/logging"
	"github.com/sweetpotato0/mcp-bridge/tool"
)

// Option configures optional connection behaviour.
type Option func(*connConfig)

type connConfig struct {
	implementation    sdkmcp.Implementation
	logger            *slog.Logger
	dir               string
	keepAlive         time.Duration
	terminateTimeout  time.Duration
	httpClient        *http.Client
	streamableRetries *int
}

// ClientInfo describes the client metadata sent to the MCP server.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// WithClientInfo sets the client metadata advertised to the MCP server.
func WithClientInfo(info ClientInfo) Option {
	return func(cfg *connConfig) {
		if info.Name != "" {
			cfg.implementation.Name = info.Name
		}
		if info.Title != "" {
			cfg.implementation.Title = info.Title
		}
		if info.Version != "" {
			cfg.implementation.Version = info.Version
		}
	}
}

// WithLogger configures logging for the connection.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *connConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithCommandDir sets the working directory for the stdio server process.
func WithCommandDir(dir string) Option {
	return func(cfg *connConfig) {
		cfg.dir = dir
	}
}

// WithKeepAlive configures periodic ping requests to keep the session healthy.
func WithKeepAlive(interval time.Duration) Option {
	return func(cfg *connConfig) {
		cfg.keepAlive = interval
	}
}

// WithTerminateTimeout sets how long to wait for graceful server shutdown
// before killing the stdio process.
func WithTerminateTimeout(d time.Duration) Option {
	return func(cfg *connConfig) {
		cfg.terminateTimeout = d
	}
}

// WithHTTPClient supplies a custom HTTP client for streamable transports.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *connConfig) {
		cfg.httpClient = client
	}
}

// WithStreamableMaxRetries overrides the reconnect retry count for the
// streamable HTTP transport.
func WithStreamableMaxRetries(retries int) Option {
	return func(cfg *connConfig) {
		cfg.streamableRetries = &retries
	}
}

// Conn is one live MCP session implementing tool.Connection.
type Conn struct {
	id        string
	sdkClient *sdkmcp.Client
	session   *sdkmcp.ClientSession
	logger    *slog.Logger

	state        atomic.Int32
	toolsChanged chan struct{}
	done         chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the tool server declared by cfg.
func Dial(ctx context.Context, cfg config.ServerConfig, opts ...Option) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.EffectiveTransport() {
	case config.TransportCommand:
		cc := defaultConfig()
		for _, opt := range opts {
			opt(&cc)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if cc.dir != "" {
			cmd.Dir = cc.dir
		}
		if len(cfg.Env) > 0 {
			cmd.Env = append(os.Environ(), cfg.Env...)
		}
		cmd.Stderr = logWriter{logger: cc.logger}
		transport := &sdkmcp.CommandTransport{
			Command:           cmd,
			TerminateDuration: cc.terminateTimeout,
		}
		return connect(ctx, connID(cfg.Name), transport, cc)
	case config.TransportStreamable:
		cc := defaultConfig()
		for _, opt := range opts {
			opt(&cc)
		}
		transport := &sdkmcp.StreamableClientTransport{
			Endpoint: cfg.Endpoint,
		}
		if cc.httpClient != nil {
			transport.HTTPClient = cc.httpClient
		}
		if cc.streamableRetries != nil {
			transport.MaxRetries = *cc.streamableRetries
		}
		return connect(ctx, connID(cfg.Name), transport, cc)
	default:
		return nil, fmt.Errorf("mcp: unsupported transport %q", cfg.Transport)
	}
}

// Connect establishes a session over an arbitrary SDK transport. Dial wraps
// it for the configured transports; tests use it with in-memory transports.
func Connect(ctx context.Context, name string, transport sdkmcp.Transport, opts ...Option) (*Conn, error) {
	cc := defaultConfig()
	for _, opt := range opts {
		opt(&cc)
	}
	return connect(ctx, connID(name), transport, cc)
}

func connect(ctx context.Context, id string, transport sdkmcp.Transport, cc connConfig) (*Conn, error) {
	conn := &Conn{
		id:           id,
		logger:       cc.logger.With("connection", id),
		toolsChanged: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	conn.state.Store(int32(tool.StateConnecting))

	clientOpts := &sdkmcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *sdkmcp.ToolListChangedRequest) {
			select {
			case conn.toolsChanged <- struct{}{}:
			default:
			}
		},
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				conn.logger.Debug("server log", "level", req.Params.Level, "data", req.Params.Data)
			}
		},
		KeepAlive: cc.keepAlive,
	}

	conn.sdkClient = sdkmcp.NewClient(&cc.implementation, clientOpts)

	session, err := conn.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect %s: %w", id, err)
	}
	conn.session = session
	conn.state.Store(int32(tool.StateReady))

	go conn.monitorSession()
	return conn, nil
}

// ID implements tool.Connection.
func (c *Conn) ID() string { return c.id }

// State implements tool.Connection.
func (c *Conn) State() tool.State { return tool.State(c.state.Load()) }

// ToolsChanged implements tool.Connection.
func (c *Conn) ToolsChanged() <-chan struct{} { return c.toolsChanged }

// Done implements tool.Connection.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close terminates the session and underlying transport.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(tool.StateClosed))
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
		close(c.done)
	})
	return c.closeErr
}

func (c *Conn) monitorSession() {
	if c.session == nil {
		_ = c.Close()
		return
	}
	if err := c.session.Wait(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
		c.state.Store(int32(tool.StateDegraded))
		c.logger.Warn("session ended with error", "error", err)
	}
	_ = c.Close()
}

func connID(name string) string {
	if name != "" {
		return name
	}
	return "mcp-" + uuid.NewString()[:8]
}

func defaultConfig() connConfig {
	return connConfig{
		implementation: sdkmcp.Implementation{
			Name:    "mcp-bridge",
			Version: "0.1.0",
		},
		logger: logging.WithComponent("mcp"),
	}
}

type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	if w.logger != nil {
		msg := strings.TrimSpace(string(p))
		if msg != "" {
			w.logger.Debug("server stderr", "output", msg)
		}
	}
	return len(p), nil
}
