// Package gemini adapts the Google generative AI SDK to the bridge's
// CompletionClient interface.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/sweetpotato0/mcp-bridge/bridge"
	"github.com/sweetpotato0/mcp-bridge/message"
	"google.golang.org/api/option"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey string
}

// Provider implements bridge.CompletionClient for Google Gemini.
//
// Gemini correlates function responses by function name rather than call id,
// so tool-call ids are synthesized locally and results are matched back
// through the message's tool name.
type Provider struct {
	client *genai.Client
}

// New creates a new Gemini provider using the official SDK.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = &Config{}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Complete implements bridge.CompletionClient.
func (p *Provider) Complete(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	model := p.client.GenerativeModel(req.Model)
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	var systemPrompts []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	msgs := req.Messages
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case message.RoleAssistant:
			parts := make([]genai.Part, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, err := tc.ArgumentsMap()
				if err != nil {
					return nil, fmt.Errorf("encode tool call %s: %w", tc.ID, err)
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case message.RoleTool:
			// Group the whole round of results into one function turn.
			var parts []genai.Part
			for ; i < len(msgs) && msgs[i].Role == message.RoleTool; i++ {
				parts = append(parts, genai.FunctionResponse{
					Name:     msgs[i].ToolName,
					Response: map[string]any{"content": msgs[i].Content},
				})
			}
			i--
			contents = append(contents, &genai.Content{Role: "function", Parts: parts})
		}
	}
	if len(systemPrompts) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(systemPrompts, "\n"))},
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema, err := convertSchema(tool.Parameters)
			if err != nil {
				return nil, fmt.Errorf("convert schema for tool %s: %w", tool.Name, err)
			}
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	session := model.StartChat()
	session.History = contents[:len(contents)-1]
	resp, err := session.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned from Gemini")
	}

	var responseText string
	var toolCalls []message.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			responseText += string(v)
		case genai.FunctionCall:
			raw, err := json.Marshal(v.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal function call args: %w", err)
			}
			toolCalls = append(toolCalls, message.ToolCall{
				ID:        "call_" + uuid.NewString()[:8],
				Name:      v.Name,
				Arguments: string(raw),
			})
		}
	}

	responseMsg := message.New(message.RoleAssistant, responseText)
	responseMsg.ToolCalls = toolCalls
	return &bridge.Response{Message: responseMsg}, nil
}

// convertSchema maps a JSON-Schema-like parameters object onto genai.Schema.
func convertSchema(parameters map[string]any) (*genai.Schema, error) {
	if parameters == nil {
		return &genai.Schema{Type: genai.TypeObject}, nil
	}
	schema := &genai.Schema{}

	if t, ok := parameters["type"].(string); ok {
		schema.Type = schemaType(t)
	}
	if desc, ok := parameters["description"].(string); ok {
		schema.Description = desc
	}
	if format, ok := parameters["format"].(string); ok {
		schema.Format = format
	}

	if props, ok := parameters["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			sub, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not an object", name)
			}
			converted, err := convertSchema(sub)
			if err != nil {
				return nil, err
			}
			schema.Properties[name] = converted
		}
	}
	if items, ok := parameters["items"].(map[string]any); ok {
		converted, err := convertSchema(items)
		if err != nil {
			return nil, err
		}
		schema.Items = converted
	}
	switch reqd := parameters["required"].(type) {
	case []string:
		schema.Required = reqd
	case []any:
		for _, r := range reqd {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	switch enum := parameters["enum"].(type) {
	case []string:
		schema.Enum = enum
	case []any:
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	return schema, nil
}

func schemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
