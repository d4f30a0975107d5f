// Package executor implements the sandboxed tool executor: executeTool(name,
// input, timeout) -> ToolCallRecord, wrapping every call in a timeout, a
// per-tool circuit breaker, output truncation, and configured retry.
// Grounded on internal/agent/tool_exec.go (ToolExecutor's
// per-attempt timeout-and-retry loop) and internal/agent/tool_registry.go
// (name-keyed handler lookup), generalized to validate arguments against a
// JSON schema before a call ever reaches the breaker.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler performs the actual work of a tool call. argsJSON has already
// passed schema validation by the time Handler is invoked.
type Handler func(ctx context.Context, argsJSON string) (string, error)

// Definition describes one invocable tool.
type Definition struct {
	Name             string
	Description      string
	ParameterSchema  json.RawMessage
	Handler          Handler
}

// Registry holds every Definition an executor can invoke, keyed by name,
// with compiled JSON schemas cached per tool.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Definition
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Definition),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces a tool definition, compiling its parameter
// schema eagerly so a malformed schema fails at registration, not at first
// call.
func (r *Registry) Register(def Definition) error {
	var compiled *jsonschema.Schema
	if len(def.ParameterSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		resourceName := def.Name + ".json"
		if err := compiler.AddResource(resourceName, strings.NewReader(string(def.ParameterSchema))); err != nil {
			return fmt.Errorf("executor: invalid schema for tool %q: %w", def.Name, err)
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			return fmt.Errorf("executor: failed to compile schema for tool %q: %w", def.Name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
	if compiled != nil {
		r.schemas[def.Name] = compiled
	} else {
		delete(r.schemas, def.Name)
	}
	return nil
}

// Unregister removes a tool definition.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool's Definition and whether it exists.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Validate checks argsJSON against name's compiled parameter schema, if one
// was registered. A tool with no schema accepts any input.
func (r *Registry) Validate(name, argsJSON string) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any
	if err := json.Unmarshal([]byte(argsJSON), &doc); err != nil {
		return fmt.Errorf("executor: tool %q: malformed JSON arguments: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("executor: tool %q: arguments failed schema validation: %w", name, err)
	}
	return nil
}
