package config

import (
	"strings"
	"time"
)

// Transport enumerates the supported MCP server transports.
type Transport string

const (
	// TransportStreamable connects over streamable HTTP (SSE + POST).
	TransportStreamable Transport = "streamable"
	// TransportCommand launches the server as a child process over stdio.
	TransportCommand Transport = "command"
)

// ServerConfig declares one tool server connection.
type ServerConfig struct {
	// Name identifies the connection in logs and collision suffixes. If
	// empty, a generated id is used.
	Name string
	// Transport selects how to connect. If empty, defaults to streamable
	// when Endpoint is set, otherwise command transport.
	Transport Transport
	// Endpoint is required for streamable HTTP connections.
	Endpoint string
	// Command is required for command transport connections.
	Command string
	// Args and Env apply to command transport only.
	Args []string
	Env  []string
}

// EffectiveTransport resolves the transport, applying the endpoint/command
// defaulting rule.
func (c ServerConfig) EffectiveTransport() Transport {
	if c.Transport != "" {
		return c.Transport
	}
	if strings.TrimSpace(c.Command) != "" {
		return TransportCommand
	}
	return TransportStreamable
}

// Validate checks the server declaration.
func (c ServerConfig) Validate() error {
	v := NewValidator()
	switch c.EffectiveTransport() {
	case TransportStreamable:
		v.RequireNonEmpty("endpoint", strings.TrimSpace(c.Endpoint))
	case TransportCommand:
		v.RequireNonEmpty("command", strings.TrimSpace(c.Command))
	default:
		v.ValidateOneOf("transport", string(c.Transport), string(TransportStreamable), string(TransportCommand))
	}
	return v.Error()
}

// BridgeConfig carries the tunables of a bridge instance.
type BridgeConfig struct {
	// Strict enables argument validation against the declared schema before
	// dispatch.
	Strict bool
	// CallTimeout bounds a single tool invocation.
	CallTimeout time.Duration
	// MaxRetries is the number of additional attempts on transport errors.
	// Tool-level failures are never retried.
	MaxRetries int
	// MaxIterations bounds the number of tool-call rounds per invocation.
	MaxIterations int
	// Concurrency caps concurrent tool calls within one assistant turn.
	Concurrency int
	// InvocationBudget bounds the wall-clock time of one invocation.
	// Zero disables the budget.
	InvocationBudget time.Duration
}

// DefaultBridgeConfig returns the defaults used when options are omitted.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Strict:        false,
		CallTimeout:   30 * time.Second,
		MaxRetries:    0,
		MaxIterations: 5,
		Concurrency:   4,
	}
}

// Validate checks the bridge tunables.
func (c BridgeConfig) Validate() error {
	v := NewValidator()
	v.RequirePositive("maxIterations", c.MaxIterations)
	v.RequirePositive("concurrency", c.Concurrency)
	if c.CallTimeout < 0 {
		v.errors = append(v.errors, ValidationError{Field: "callTimeout", Message: "value cannot be negative"})
	}
	if c.MaxRetries < 0 {
		v.errors = append(v.errors, ValidationError{Field: "maxRetries", Message: "value cannot be negative"})
	}
	if c.InvocationBudget < 0 {
		v.errors = append(v.errors, ValidationError{Field: "invocationBudget", Message: "value cannot be negative"})
	}
	return v.Error()
}
