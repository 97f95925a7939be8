// Package agent implements the bounded agentic mutation loop used for lore
// management: a model inspects the world through read-only tools and proposes
// edits through mutation tools that emit inert PendingChange records. No tool
// ever writes to persistent storage.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"fabula/internal/logging"
	"fabula/internal/types"
)

var (
	ErrToolNameEmpty  = errors.New("agent: tool name is empty")
	ErrToolExecuteNil = errors.New("agent: tool has no execute function")
	ErrToolRegistered = errors.New("agent: tool already registered")
)

// Property describes a single parameter property for the JSON schema.
type Property struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Enum        []any          `json:"enum,omitempty"`
	Items       *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. The returned string is a
// JSON payload appended to the conversation as the tool result; errors are
// reserved for infrastructure failures, never for domain-level rejections
// (those travel inside the payload).
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one entry in the model-visible tool surface.
type Tool struct {
	Name        string
	Description string
	Schema      ToolSchema
	Execute     ExecuteFunc
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition converts the tool to the provider-neutral wire form.
func (t *Tool) Definition() types.ToolDefinition {
	props := make(map[string]any, len(t.Schema.Properties))
	for name, p := range t.Schema.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		props[name] = prop
	}
	required := t.Schema.Required
	if required == nil {
		required = []string{}
	}
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// Registry holds the tools for one agent run. Registration order is
// preserved so the model always sees a deterministic tool list.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)

	logging.ToolsDebug("registered tool: %s", tool.Name)
	return nil
}

// MustRegister registers a tool and panics on error. Use for static
// registration when building a tool surface.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns wire-form definitions in registration order.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// Execute runs a tool by name. Unknown tools and missing required arguments
// come back as structured error payloads, not Go errors, so the loop can
// continue and the model can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	tool := r.Get(name)
	if tool == nil {
		return toolError(fmt.Sprintf("unknown tool %q", name))
	}

	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return toolError(fmt.Sprintf("missing required argument %q", required))
		}
	}

	logging.ToolsDebug("executing tool: %s", name)
	result, err := tool.Execute(ctx, args)
	if err != nil {
		logging.Tools("tool %s failed: %v", name, err)
		return toolError(err.Error())
	}
	return result
}

// toolError wraps a domain-level failure as a structured payload.
func toolError(msg string) string {
	data, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return string(data)
}

// toolOK wraps a success payload.
func toolOK(fields map[string]any) string {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	data, err := json.Marshal(fields)
	if err != nil {
		return toolError("internal encoding failure")
	}
	return string(data)
}
