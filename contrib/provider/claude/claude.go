// Package claude adapts the official Anthropic SDK to the bridge's
// CompletionClient interface.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/sweetpotato0/mcp-bridge/bridge"
	"github.com/sweetpotato0/mcp-bridge/message"
)

// Config holds Claude provider configuration
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider implements bridge.CompletionClient for the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
}

// New creates a new Claude provider using the official SDK.
func New(config *Config) *Provider {
	if config == nil {
		config = &Config{}
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(options...)}
}

// Complete implements bridge.CompletionClient.
//
// The Messages API has no standalone tool role: tool results are sent as
// tool_result blocks inside a user message, and consecutive results from one
// round are grouped into a single user turn.
func (p *Provider) Complete(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	var systemPrompts []string
	conversation := make([]anthropic.MessageParam, 0, len(req.Messages))

	msgs := req.Messages
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, err := tc.ArgumentsMap()
				if err != nil {
					return nil, fmt.Errorf("encode tool call %s: %w", tc.ID, err)
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: args,
					},
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			conversation = append(conversation, anthropic.NewAssistantMessage(blocks...))
		case message.RoleTool:
			// Collect the whole run of tool results into one user turn.
			var blocks []anthropic.ContentBlockParamUnion
			for ; i < len(msgs) && msgs[i].Role == message.RoleTool; i++ {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: msgs[i].ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: msgs[i].Content}},
						},
					},
				})
			}
			i--
			conversation = append(conversation, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  conversation,
		MaxTokens: maxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	if len(req.Tools) > 0 {
		claudeTools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				InputSchema: inputSchema(tool.Parameters),
			}
			if tool.Description != "" {
				toolParam.Description = param.NewOpt(tool.Description)
			}
			claudeTools = append(claudeTools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = claudeTools
		if req.ToolChoice == "auto" || req.ToolChoice == "" {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfAuto: &anthropic.ToolChoiceAutoParam{},
			}
		}
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var responseText string
	var toolCalls []message.ToolCall
	for _, content := range apiMessage.Content {
		switch content.Type {
		case "text":
			responseText += content.Text
		case "tool_use":
			toolCalls = append(toolCalls, message.ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: string(content.Input),
			})
		}
	}

	responseMsg := message.New(message.RoleAssistant, responseText)
	responseMsg.ToolCalls = toolCalls
	return &bridge.Response{Message: responseMsg}, nil
}

// inputSchema converts a function-calling parameters object into the
// Messages API tool schema shape.
func inputSchema(parameters map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if parameters == nil {
		return schema
	}
	if props, ok := parameters["properties"]; ok {
		schema.Properties = props
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
	return schema
}
