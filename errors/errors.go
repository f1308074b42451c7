package errors

import "errors"

// Sentinel errors for the bridge error taxonomy. Per-call failures
// (ErrUnknownTool, ErrSchemaViolation, ErrToolFailed, ErrTimeout and
// tool-side ErrTransport) are recovered locally by encoding them into a tool
// result message; ErrCompletion, ErrIterationBudget and ErrInvocationBudget
// abort the bridge invocation.
var (
	// ErrUnknownTool indicates the requested tool name is not in the
	// registry snapshot used for the current turn.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrSchemaViolation indicates tool arguments failed validation against
	// the declared parameter schema.
	ErrSchemaViolation = errors.New("arguments violate tool schema")

	// ErrToolFailed indicates the tool executed and reported a failure.
	ErrToolFailed = errors.New("tool reported failure")

	// ErrTransport indicates the connection to a tool server is unreachable
	// or broken.
	ErrTransport = errors.New("transport failure")

	// ErrTimeout indicates a tool call exceeded its per-call timeout.
	ErrTimeout = errors.New("tool call timed out")

	// ErrIterationBudget indicates the completion loop exceeded its maximum
	// number of tool-call rounds.
	ErrIterationBudget = errors.New("tool-call iteration budget exceeded")

	// ErrInvocationBudget indicates the per-invocation wall-clock budget
	// expired before the model produced a final answer.
	ErrInvocationBudget = errors.New("invocation time budget exceeded")

	// ErrRegistryCollision indicates a tool name conflict that cannot be
	// resolved by namespacing, such as a duplicate within one connection's
	// listing. It is fatal for that connection at subscribe time.
	ErrRegistryCollision = errors.New("unresolvable tool name collision")

	// ErrCompletion indicates the completion endpoint itself failed.
	ErrCompletion = errors.New("completion endpoint failure")

	// ErrConnectionClosed indicates an operation on a closed tool server
	// connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
)
