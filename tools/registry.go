// Package tools provides the tool catalog and executors for the loop
// controller: a concurrent-safe registry keyed by tool name, JSON Schema
// validation of call arguments, and a set of built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Func is the function signature for tool execution. It receives the raw
// JSON arguments, already validated against the tool's parameter schema.
type Func func(ctx context.Context, args json.RawMessage) (string, error)

// Definition describes a tool for the model (serializable metadata).
// Parameters is a JSON Schema object.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool pairs a definition with its executor.
type Tool struct {
	Definition Definition
	Run        Func
}

// Call identifies one requested tool invocation.
type Call struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Result is the outcome of one tool invocation. Err covers unknown tools,
// argument validation failures, and executor errors alike; callers decide
// how to report it.
type Result struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Err     error  `json:"-"`
}

// Executor runs tool calls. *Registry is the standard implementation.
type Executor interface {
	Execute(ctx context.Context, call Call) Result
}

// Registry manages tool registration and lookup. Definitions are returned
// in registration order so prompts and tests are deterministic.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
	order []string
}

type registered struct {
	tool   Tool
	schema *compiledSchema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register adds or replaces a tool. The parameter schema is compiled here
// so malformed schemas fail at registration, not at call time. Replacing a
// tool keeps its position in the registration order.
func (r *Registry) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Run == nil {
		return fmt.Errorf("tool %s: executor is required", tool.Definition.Name)
	}
	schema, err := compileParameters(tool.Definition.Name, tool.Definition.Parameters)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = &registered{tool: tool, schema: schema}
	return nil
}

// MustRegister is Register for static tool sets; it panics on error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Unregister removes a tool from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a registered tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil
	}
	tool := reg.tool
	return &tool
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].tool.Definition)
	}
	return defs
}

// Names returns the names of all registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone returns a copy of the registry. Compiled schemas are shared; they
// are immutable after registration.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewRegistry()
	clone.order = make([]string, len(r.order))
	copy(clone.order, r.order)
	for name, reg := range r.tools {
		cloned := *reg
		clone.tools[name] = &cloned
	}
	return clone
}

// MergeFrom copies all tools from other into this registry. Existing tools
// with the same name are overwritten (latest wins).
func (r *Registry) MergeFrom(other *Registry) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range other.order {
		if _, exists := r.tools[name]; !exists {
			r.order = append(r.order, name)
		}
		cloned := *other.tools[name]
		r.tools[name] = &cloned
	}
}

// Execute looks up the named tool, validates the call arguments against its
// parameter schema, and runs it. Failures of any kind come back in
// Result.Err; Execute itself never panics on bad input.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	res := Result{CallID: call.ID, Name: call.Name}

	r.mu.RLock()
	reg, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		res.Err = fmt.Errorf("unknown tool: %s", call.Name)
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if err := reg.schema.validate(call.Arguments); err != nil {
		res.Err = fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
		return res
	}

	content, err := reg.tool.Run(ctx, call.Arguments)
	res.Content = content
	res.Err = err
	return res
}

// ParseArguments unmarshals tool call arguments into a map for access.
func ParseArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// StringArg extracts a string argument from parsed tool arguments.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg extracts an integer argument from parsed tool arguments.
func IntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// BoolArg extracts a boolean argument from parsed tool arguments.
func BoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
