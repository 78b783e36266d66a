package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema wraps a compiled parameter schema. A nil schema means the
// tool declared no parameters and accepts any arguments.
type compiledSchema struct {
	schema *jsonschema.Schema
}

// compileParameters compiles a tool's parameter map into a JSON Schema.
// The map is round-tripped through JSON first so Go literals (typed slices,
// ints) become the plain decoded values the compiler expects.
func compileParameters(name string, params map[string]any) (*compiledSchema, error) {
	if len(params) == 0 {
		return &compiledSchema{}, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("tool %s: marshal parameter schema: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool %s: decode parameter schema: %w", name, err)
	}

	resource := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("tool %s: add schema resource: %w", name, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile parameter schema: %w", name, err)
	}
	return &compiledSchema{schema: schema}, nil
}

// validate checks raw call arguments against the schema. Empty arguments
// are treated as an empty object.
func (c *compiledSchema) validate(raw json.RawMessage) error {
	if c.schema == nil {
		return nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return c.schema.Validate(v)
}
