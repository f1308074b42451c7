package dispatch

import (
	"encoding/json"

	"github.com/sweetpotato0/mcp-bridge/message"
)

// Status classifies the outcome of one tool invocation.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusToolError       Status = "tool_error"
	StatusTransportError  Status = "transport_error"
	StatusTimeout         Status = "timeout"
	StatusSchemaViolation Status = "schema_violation"
	StatusUnknownTool     Status = "unknown_tool"
)

// Result is the structured outcome of one tool call, correlated by call id.
type Result struct {
	CallID   string
	ToolName string
	Status   Status
	Content  string
	Err      error
}

// Failed reports whether the invocation produced anything other than a
// successful tool response.
func (r Result) Failed() bool { return r.Status != StatusSuccess }

// errorPayload is the shape returned to the model for failed calls.
type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Tool    string `json:"tool"`
		Message string `json:"message"`
	} `json:"error"`
}

// Message renders the result as the tool message appended to the
// conversation. Failures are encoded as a structured error payload so the
// model can react instead of the loop aborting.
func (r Result) Message() *message.Message {
	if !r.Failed() {
		return message.NewToolResult(r.CallID, r.ToolName, r.Content)
	}

	var payload errorPayload
	payload.Error.Type = string(r.Status)
	payload.Error.Tool = r.ToolName
	if r.Err != nil {
		payload.Error.Message = r.Err.Error()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{"error":{"type":"` + string(r.Status) + `"}}`)
	}
	return message.NewToolResult(r.CallID, r.ToolName, string(body))
}
