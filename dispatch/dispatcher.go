// Package dispatch resolves model-issued tool calls against a registry
// snapshot and executes them on the owning connection.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/message"
	"github.com/sweetpotato0/mcp-bridge/pkg/logging"
	"github.com/sweetpotato0/mcp-bridge/pkg/telemetry"
	"github.com/sweetpotato0/mcp-bridge/tool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultCallTimeout = 30 * time.Second

// Option configures a dispatcher.
type Option func(*Dispatcher)

// WithStrict toggles argument validation against the declared schema before
// dispatch. When disabled, malformed arguments are forwarded to the server
// and its failure (if any) surfaces as a tool error.
func WithStrict(strict bool) Option {
	return func(d *Dispatcher) {
		d.strict = strict
	}
}

// WithTimeout bounds a single tool invocation.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxRetries allows up to n additional attempts with exponential backoff.
// Only transport errors are retried; a tool-level failure is not transient.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

// WithLogger overrides the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher executes tool calls. It is safe for concurrent use; each Invoke
// performs at most one attempt unless retries are configured.
type Dispatcher struct {
	registry   *tool.Registry
	strict     bool
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New creates a dispatcher borrowing connections from the registry.
func New(registry *tool.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  defaultCallTimeout,
		logger:   logging.WithComponent("dispatch"),
		tracer:   telemetry.Tracer("mcp-bridge/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Strict reports whether schema validation is enforced before dispatch.
func (d *Dispatcher) Strict() bool { return d.strict }

// Invoke resolves one tool call against the snapshot and executes it.
// Failures are encoded in the result status, never returned as an error:
// every per-call failure becomes a tool result message the model can react to.
func (d *Dispatcher) Invoke(ctx context.Context, snap *tool.Snapshot, call message.ToolCall) Result {
	ctx, span := d.tracer.Start(ctx, "dispatch.invoke",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		))
	res := d.invoke(ctx, snap, call)
	span.SetAttributes(attribute.String("tool.status", string(res.Status)))
	telemetry.End(span, res.Err)
	return res
}

func (d *Dispatcher) invoke(ctx context.Context, snap *tool.Snapshot, call message.ToolCall) Result {
	desc, ok := snap.Resolve(call.Name)
	if !ok {
		// Never guess at an owning connection for an unknown name.
		return Result{
			CallID:   call.ID,
			ToolName: call.Name,
			Status:   StatusUnknownTool,
			Err:      fmt.Errorf("%w: %s", bridgeerrors.ErrUnknownTool, call.Name),
		}
	}

	if d.strict {
		if err := desc.ValidateArgs(json.RawMessage(call.Arguments)); err != nil {
			return Result{
				CallID:   call.ID,
				ToolName: call.Name,
				Status:   StatusSchemaViolation,
				Err:      fmt.Errorf("%w: %v", bridgeerrors.ErrSchemaViolation, err),
			}
		}
	}

	args, err := call.ArgumentsMap()
	if err != nil {
		// The transport needs a JSON object; arguments that do not even
		// parse cannot be forwarded in any mode.
		return Result{
			CallID:   call.ID,
			ToolName: call.Name,
			Status:   StatusToolError,
			Err:      fmt.Errorf("%w: arguments are not valid JSON: %v", bridgeerrors.ErrToolFailed, err),
		}
	}

	conn, ok := d.registry.Connection(desc.ConnectionID)
	if !ok {
		return Result{
			CallID:   call.ID,
			ToolName: call.Name,
			Status:   StatusTransportError,
			Err:      fmt.Errorf("%w: connection %s evicted", bridgeerrors.ErrTransport, desc.ConnectionID),
		}
	}

	output, status, err := d.callWithRetry(ctx, conn, desc.RemoteName, args)
	return Result{
		CallID:   call.ID,
		ToolName: call.Name,
		Status:   status,
		Content:  output,
		Err:      err,
	}
}

// callWithRetry performs the remote call, retrying transport errors only.
func (d *Dispatcher) callWithRetry(ctx context.Context, conn tool.Connection, name string, args map[string]any) (string, Status, error) {
	var (
		output string
		status Status
		last   error
	)

	attempt := func() error {
		out, st, err := d.callOnce(ctx, conn, name, args)
		output, status, last = out, st, err
		if err == nil {
			return nil
		}
		if st == StatusTransportError {
			return err // retryable
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		if status == StatusTransportError {
			d.logger.Warn("tool call failed after retries",
				"tool", name, "connection", conn.ID(), "attempts", d.maxRetries+1, "error", last)
		}
		return output, status, last
	}
	return output, StatusSuccess, nil
}

func (d *Dispatcher) callOnce(ctx context.Context, conn tool.Connection, name string, args map[string]any) (string, Status, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	output, err := conn.Call(callCtx, name, args)
	if err == nil {
		return output, StatusSuccess, nil
	}

	var callErr *tool.CallError
	switch {
	case errors.As(err, &callErr):
		return "", StatusToolError, fmt.Errorf("%w: %s", bridgeerrors.ErrToolFailed, callErr.Message)
	case callCtx.Err() != nil && ctx.Err() == nil:
		// The per-call deadline fired; cancellation already propagated to
		// the transport through the context.
		return "", StatusTimeout, fmt.Errorf("%w after %s: %s", bridgeerrors.ErrTimeout, d.timeout, name)
	case ctx.Err() != nil:
		return "", StatusTimeout, fmt.Errorf("%w: %v", bridgeerrors.ErrTimeout, ctx.Err())
	default:
		return "", StatusTransportError, fmt.Errorf("%w: %v", bridgeerrors.ErrTransport, err)
	}
}
