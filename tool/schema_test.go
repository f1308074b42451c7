package tool

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTranslatePreservesShape(t *testing.T) {
	desc, err := Translate("conn", RemoteTool{
		Name:        "search",
		Description: "Search the index",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
					"minLength":   float64(1),
				},
				"limit": map[string]any{
					"type":    "integer",
					"minimum": float64(1),
					"maximum": float64(100),
					"default": float64(10),
				},
				"tags": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string", "enum": []any{"a", "b"}},
				},
			},
			"required": []any{"query"},
		},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}

	props, ok := desc.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing from translated schema")
	}
	query, ok := props["query"].(map[string]any)
	if !ok {
		t.Fatalf("query property missing")
	}
	if query["minLength"] != float64(1) {
		t.Fatalf("minLength constraint dropped")
	}
	limit := props["limit"].(map[string]any)
	if limit["maximum"] != float64(100) || limit["default"] != float64(10) {
		t.Fatalf("numeric constraints not preserved: %v", limit)
	}
	if !reflect.DeepEqual(desc.Parameters["required"], []any{"query"}) {
		t.Fatalf("required list not preserved: %v", desc.Parameters["required"])
	}
	items := props["tags"].(map[string]any)["items"].(map[string]any)
	if !reflect.DeepEqual(items["enum"], []any{"a", "b"}) {
		t.Fatalf("nested enum not preserved: %v", items["enum"])
	}
}

func TestTranslatePreservesConstraintKeywords(t *testing.T) {
	desc, err := Translate("conn", RemoteTool{
		Name: "create_record",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":   map[string]any{"type": "string", "pattern": "^[0-9]+$"},
				"kind": map[string]any{"const": "record"},
				"count": map[string]any{
					"type":             "integer",
					"multipleOf":       float64(5),
					"exclusiveMinimum": float64(0),
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"uniqueItems": true,
				},
				"attrs": map[string]any{
					"type":          "object",
					"minProperties": float64(1),
					"maxProperties": float64(3),
				},
			},
			"required": []any{"id"},
		},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}

	props := desc.Parameters["properties"].(map[string]any)
	if props["id"].(map[string]any)["pattern"] != "^[0-9]+$" {
		t.Fatalf("pattern keyword dropped from translated schema")
	}
	if props["count"].(map[string]any)["multipleOf"] != float64(5) {
		t.Fatalf("multipleOf keyword dropped from translated schema")
	}

	if err := desc.ValidateArgs(json.RawMessage(`{"id":"42","kind":"record","count":10,"tags":["a","b"],"attrs":{"k":"v"}}`)); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"id":"not-a-number"}`)); err == nil {
		t.Fatalf("pattern violation accepted")
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"id":"42","kind":"other"}`)); err == nil {
		t.Fatalf("const violation accepted")
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"id":"42","count":7}`)); err == nil {
		t.Fatalf("multipleOf violation accepted")
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"id":"42","count":0}`)); err == nil {
		t.Fatalf("exclusiveMinimum violation accepted")
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"id":"42","tags":["a","a"]}`)); err == nil {
		t.Fatalf("uniqueItems violation accepted")
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"id":"42","attrs":{}}`)); err == nil {
		t.Fatalf("minProperties violation accepted")
	}
}

func TestTranslateEmptySchema(t *testing.T) {
	desc, err := Translate("conn", RemoteTool{Name: "noop"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}

	want := map[string]any{"type": "object", "properties": map[string]any{}}
	if !reflect.DeepEqual(desc.Parameters, want) {
		t.Fatalf("expected synthetic object schema, got %v", desc.Parameters)
	}
}

func TestTranslateRejectsNonObjectRoot(t *testing.T) {
	_, err := Translate("conn", RemoteTool{
		Name:        "bad",
		InputSchema: map[string]any{"type": "string"},
	})
	if err == nil {
		t.Fatalf("expected error for non-object root schema")
	}
}

func TestTranslateRejectsUnsupportedConstructs(t *testing.T) {
	cases := []map[string]any{
		{"type": "object", "$ref": "#/defs/x"},
		{"type": "object", "oneOf": []any{}},
		{"type": "object", "properties": map[string]any{
			"x": map[string]any{"anyOf": []any{}},
		}},
		{"type": "object", "patternProperties": map[string]any{}},
	}
	for i, schema := range cases {
		if _, err := Translate("conn", RemoteTool{Name: "bad", InputSchema: schema}); err == nil {
			t.Fatalf("case %d: expected unsupported construct to fail translation", i)
		}
	}
}

func TestTranslateDropsUnknownKeywords(t *testing.T) {
	desc, err := Translate("conn", RemoteTool{
		Name: "search",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"x-internal": "server-private",
		},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if _, found := desc.Parameters["x-internal"]; found {
		t.Fatalf("vendor keyword leaked into translated schema")
	}
}

func TestDescriptorValidateArgs(t *testing.T) {
	desc, err := Translate("conn", RemoteTool{
		Name: "search",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "minimum": float64(1)},
			},
			"required": []any{"query"},
		},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}

	if err := desc.ValidateArgs(json.RawMessage(`{"query":"go","limit":5}`)); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"limit":5}`)); err == nil {
		t.Fatalf("missing required property accepted")
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"query":"go","limit":"five"}`)); err == nil {
		t.Fatalf("wrong property type accepted")
	}
	if err := desc.ValidateArgs(json.RawMessage(`{"query":"go","limit":0}`)); err == nil {
		t.Fatalf("minimum violation accepted")
	}
}
