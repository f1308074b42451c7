package bridge

import (
	"context"

	"github.com/sweetpotato0/mcp-bridge/message"
)

// ToolSchema is one translated tool definition handed to the completion
// endpoint, already in the function-calling format.
type ToolSchema struct {
	Name        string
	Description string
	// Parameters is a JSON-Schema-like object describing the arguments.
	Parameters map[string]any
}

// Request mirrors a chat-completion request. Callers fill Model and
// Messages; the bridge injects Tools from the registry snapshot and defaults
// ToolChoice to "auto" whenever tools are present.
type Request struct {
	Model       string
	Messages    []*message.Message
	Temperature float64
	MaxTokens   int64
	ToolChoice  string
	Tools       []ToolSchema
}

// Response is one assistant turn returned by a completion endpoint. A
// response whose message carries tool calls keeps the loop going; one
// without ends it.
type Response struct {
	Message *message.Message
}

// CompletionClient is implemented by chat-completion providers
// (contrib/provider). Implementations must be safe for concurrent use.
type CompletionClient interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
