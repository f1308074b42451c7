// Package openai adapts the official OpenAI SDK to the bridge's
// CompletionClient interface.
package openai

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sweetpotato0/mcp-bridge/bridge"
	"github.com/sweetpotato0/mcp-bridge/message"
)

// Config holds OpenAI provider configuration
type Config struct {
	APIKey  string
	BaseURL string
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// Provider implements bridge.CompletionClient for OpenAI-compatible
// chat-completion endpoints.
type Provider struct {
	client openaisdk.Client
}

// New creates a new OpenAI provider using the official SDK.
func New(config *Config) *Provider {
	if config == nil {
		config = &Config{}
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{client: openaisdk.NewClient(options...)}
}

// Complete implements bridge.CompletionClient.
func (p *Provider) Complete(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	openAIMessages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			openAIMessages = append(openAIMessages, openaisdk.SystemMessage(msg.Content))
		case message.RoleUser:
			openAIMessages = append(openAIMessages, openaisdk.UserMessage(msg.Content))
		case message.RoleAssistant:
			assistantMsg := openaisdk.AssistantMessage(msg.Content)
			if len(msg.ToolCalls) > 0 && assistantMsg.OfAssistant != nil {
				assistantMsg.OfAssistant.ToolCalls = encodeToolCalls(msg.ToolCalls)
			}
			openAIMessages = append(openAIMessages, assistantMsg)
		case message.RoleTool:
			openAIMessages = append(openAIMessages, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Messages: openAIMessages,
		Model:    shared.ChatModel(req.Model),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		openAITools := make([]openaisdk.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			def := shared.FunctionDefinitionParam{
				Name:       tool.Name,
				Parameters: shared.FunctionParameters(tool.Parameters),
			}
			if tool.Description != "" {
				def.Description = param.NewOpt(tool.Description)
			}
			openAITools = append(openAITools, openaisdk.ChatCompletionFunctionTool(def))
		}
		params.Tools = openAITools
		if req.ToolChoice != "" {
			params.ToolChoice = openaisdk.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: param.NewOpt(req.ToolChoice),
			}
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	choice := completion.Choices[0]
	responseMsg := message.New(message.RoleAssistant, choice.Message.Content)

	if len(choice.Message.ToolCalls) > 0 {
		toolCalls := make([]message.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			toolCalls[i] = message.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
		}
		responseMsg.ToolCalls = toolCalls
	}

	return &bridge.Response{Message: responseMsg}, nil
}

func encodeToolCalls(calls []message.ToolCall) []openaisdk.ChatCompletionMessageToolCallUnionParam {
	params := make([]openaisdk.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Arguments
		if args == "" {
			args = "{}"
		}
		params = append(params, openaisdk.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openaisdk.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openaisdk.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: args,
				},
			},
		})
	}
	return params
}
