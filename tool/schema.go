package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Keys copied through during schema translation. Anything else is dropped;
// constructs that change validation semantics fail the translation instead.
var passthroughKeys = map[string]bool{
	"type":                 true,
	"description":          true,
	"properties":           true,
	"required":             true,
	"items":                true,
	"enum":                 true,
	"default":              true,
	"const":                true,
	"minimum":              true,
	"maximum":              true,
	"exclusiveMinimum":     true,
	"exclusiveMaximum":     true,
	"multipleOf":           true,
	"minLength":            true,
	"maxLength":            true,
	"pattern":              true,
	"minItems":             true,
	"maxItems":             true,
	"uniqueItems":          true,
	"minProperties":        true,
	"maxProperties":        true,
	"additionalProperties": true,
	"title":                true,
	"format":               true,
}

var unsupportedKeys = []string{"$ref", "$defs", "definitions", "oneOf", "anyOf", "allOf", "not", "patternProperties", "if", "then", "else"}

// Translate converts a server's raw tool listing entry into a registry
// descriptor, converting the declared input schema into the completion API's
// function parameter format and compiling it for argument validation.
//
// Translation of a single tool fails on unsupported schema constructs; the
// caller logs and skips that tool rather than aborting the whole listing.
func Translate(connID string, remote RemoteTool) (*Descriptor, error) {
	if remote.Name == "" {
		return nil, fmt.Errorf("tool has no name")
	}

	params, err := translateObjectSchema(remote.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("translate schema for %s: %w", remote.Name, err)
	}

	compiled, err := compileSchema(params)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", remote.Name, err)
	}

	return &Descriptor{
		Name:         remote.Name,
		RemoteName:   remote.Name,
		ConnectionID: connID,
		Description:  remote.Description,
		Parameters:   params,
		OutputHint:   remote.OutputHint,
		compiled:     compiled,
	}, nil
}

func translateObjectSchema(schema map[string]any) (map[string]any, error) {
	if len(schema) == 0 {
		// Tools without parameters still need an object schema on the wire.
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	if typ, ok := schema["type"].(string); ok && typ != "object" {
		return nil, fmt.Errorf("root schema type must be object, got %q", typ)
	}
	out, err := sanitize(schema)
	if err != nil {
		return nil, err
	}
	result, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("root schema is not an object")
	}
	result["type"] = "object"
	if _, ok := result["properties"]; !ok {
		result["properties"] = map[string]any{}
	}
	return result, nil
}

// sanitize walks a schema node, keeping only supported keywords and
// rejecting constructs the completion API cannot express.
func sanitize(node any) (any, error) {
	schema, ok := node.(map[string]any)
	if !ok {
		return node, nil
	}

	for _, key := range unsupportedKeys {
		if _, found := schema[key]; found {
			return nil, fmt.Errorf("unsupported schema construct %q", key)
		}
	}

	out := make(map[string]any, len(schema))
	for key, value := range schema {
		if !passthroughKeys[key] {
			continue
		}
		switch key {
		case "properties":
			props, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("properties must be an object")
			}
			cleaned := make(map[string]any, len(props))
			for name, prop := range props {
				sub, err := sanitize(prop)
				if err != nil {
					return nil, fmt.Errorf("property %q: %w", name, err)
				}
				cleaned[name] = sub
			}
			out[key] = cleaned
		case "items":
			sub, err := sanitize(value)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			out[key] = sub
		case "additionalProperties":
			if nested, ok := value.(map[string]any); ok {
				sub, err := sanitize(nested)
				if err != nil {
					return nil, fmt.Errorf("additionalProperties: %w", err)
				}
				out[key] = sub
			} else {
				out[key] = value
			}
		default:
			out[key] = value
		}
	}
	return out, nil
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
