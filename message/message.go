package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation. Conversations are
// append-only: once a message is part of a transcript it is never mutated.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool result messages
	ToolName   string     `json:"tool_name,omitempty"`    // set on tool result messages
	CreatedAt  time.Time  `json:"created_at"`
}

// ToolCall is a tool invocation requested by the model inside an assistant
// turn. Arguments carries the raw JSON text exactly as the completion
// endpoint produced it; it is only decoded at the dispatch boundary.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArgumentsMap decodes the raw argument JSON into a map. Empty arguments
// decode to an empty map.
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	if tc.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// New creates a new message with the given role and content
func New(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewToolCall creates an assistant message carrying tool-call requests.
func NewToolCall(content string, calls []ToolCall) *Message {
	msg := New(RoleAssistant, content)
	msg.ToolCalls = calls
	return msg
}

// NewToolResult creates a tool result message correlated with the given call id.
func NewToolResult(callID, toolName, content string) *Message {
	msg := New(RoleTool, content)
	msg.ToolCallID = callID
	msg.ToolName = toolName
	return msg
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if len(msg.ToolCalls) > 0 {
		cloned.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		copy(cloned.ToolCalls, msg.ToolCalls)
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}
