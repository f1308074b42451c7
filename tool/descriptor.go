package tool

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Descriptor describes one remote tool as published to the registry. A
// descriptor is immutable once published; subscription updates replace a
// connection's descriptors wholesale.
type Descriptor struct {
	// Name is the registry-wide unique name offered to the model. It equals
	// RemoteName unless collision namespacing appended a connection suffix.
	Name string
	// RemoteName is the name the owning server knows the tool by.
	RemoteName string
	// ConnectionID identifies the owning connection.
	ConnectionID string
	Description  string
	// Parameters is the translated function parameter schema in the
	// completion API's format.
	Parameters map[string]any
	// OutputHint optionally describes the shape of the tool's output.
	OutputHint string

	compiled *jsonschema.Schema
}

// ValidateArgs checks raw argument JSON against the declared parameter
// schema. Used by the dispatcher in strict mode.
func (d *Descriptor) ValidateArgs(raw json.RawMessage) error {
	if d.compiled == nil {
		return nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return d.compiled.Validate(doc)
}

// FunctionSchema renders the descriptor in the completion API's tool format.
func (d *Descriptor) FunctionSchema() map[string]any {
	fn := map[string]any{
		"name":       d.Name,
		"parameters": d.Parameters,
	}
	if d.Description != "" {
		fn["description"] = d.Description
	}
	return map[string]any{
		"type":     "function",
		"function": fn,
	}
}

// renamed returns a copy of the descriptor published under a different
// registry-wide name. The remote name and schema are shared; descriptors are
// never mutated after publication.
func (d *Descriptor) renamed(name string) *Descriptor {
	clone := *d
	clone.Name = name
	return &clone
}
