package mcp

import (
	"context"
	"encoding/json"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/tool"
)

// ListTools returns the full tool catalog exposed by the server, following
// pagination cursors until exhausted.
func (c *Conn) ListTools(ctx context.Context) ([]tool.RemoteTool, error) {
	if c.session == nil || c.State() == tool.StateClosed {
		return nil, bridgeerrors.ErrConnectionClosed
	}

	var (
		cursor  string
		remotes []tool.RemoteTool
	)
	for {
		params := &sdkmcp.ListToolsParams{}
		if cursor != "" {
			params.Cursor = cursor
		}
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, def := range res.Tools {
			if def == nil {
				continue
			}
			remotes = append(remotes, remoteFromDef(def))
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return remotes, nil
}

// Call invokes a remote MCP tool and returns the textual response. A result
// flagged IsError by the server becomes a *tool.CallError so the dispatcher
// can tell tool-level failures from transport ones.
func (c *Conn) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil || c.State() == tool.StateClosed {
		return "", bridgeerrors.ErrConnectionClosed
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	text := normalizeContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool returned error without message"
		}
		return "", &tool.CallError{Tool: name, Message: text}
	}
	return text, nil
}

func remoteFromDef(def *sdkmcp.Tool) tool.RemoteTool {
	description := def.Description
	if description == "" && def.Annotations != nil {
		description = def.Annotations.Title
	}

	remote := tool.RemoteTool{
		Name:        def.Name,
		Description: description,
		InputSchema: schemaToMap(def.InputSchema),
	}
	if out := schemaToMap(def.OutputSchema); out != nil {
		if hint, ok := out["description"].(string); ok {
			remote.OutputHint = hint
		} else if hint, ok := out["title"].(string); ok {
			remote.OutputHint = hint
		}
	}
	return remote
}

func normalizeContent(content []sdkmcp.Content) string {
	if len(content) == 0 {
		return ""
	}

	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := c.MarshalJSON(); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// schemaToMap normalizes whatever schema representation the SDK hands back
// into a plain map by round-tripping through JSON.
func schemaToMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	switch value := v.(type) {
	case map[string]any:
		return value
	case json.RawMessage:
		var out map[string]any
		if err := json.Unmarshal(value, &out); err != nil {
			return nil
		}
		return out
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil
		}
		return out
	}
}
