// Package tools defines the tool descriptor every concrete tool conforms to,
// tool sets assembled per workflow and the immutable tool registry.
//
// Descriptors are built once and shared read-only across requests. Every
// decoration (guardrails, user-context injection) returns a new *Tool and
// never mutates the one it wraps.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/schema"
)

// CallOptions carries per-invocation context from the agent loop.
type CallOptions struct {
	ToolCallID string
	Step       int
}

// ExecuteFunc runs a tool. input has already been validated against the
// tool's input schema when called through the agent loop.
type ExecuteFunc func(ctx context.Context, input json.RawMessage, opts CallOptions) (any, error)

// Tool is a tool descriptor.
type Tool struct {
	Name         string
	Description  string
	InputSchema  *schema.Schema
	OutputSchema *schema.Schema
	Execute      ExecuteFunc
}

// Definition describes the tool to the model.
func (t *Tool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema.Raw(),
	}
}

// ValidateInput checks input against the input schema.
func (t *Tool) ValidateInput(input json.RawMessage) error {
	if err := t.InputSchema.Validate(input); err != nil {
		return cerr.New(cerr.ToolInvalidInput, fmt.Sprintf("invalid input for tool %s", t.Name), err).
			WithMeta("tool", t.Name)
	}
	return nil
}

// Clone returns a shallow copy for decoration.
func (t *Tool) Clone() *Tool {
	cp := *t
	return &cp
}

// Decode unmarshals tool input into T, reporting failures as invalid input.
func Decode[T any](input json.RawMessage) (T, error) {
	var v T
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return v, cerr.New(cerr.ToolInvalidInput, "malformed tool input", err)
	}
	return v, nil
}

// Params decodes tool input into a generic map. Non-object input yields nil.
func Params(input json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return nil
	}
	return m
}

// ── ToolSet ─────────────────────────────────────────────────

// ToolSet maps tool name to descriptor. Owned by the workflow builder that
// assembled it.
type ToolSet map[string]*Tool

// Names returns the tool names in sorted order.
func (s ToolSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns model definitions for the named tools, in sorted
// order. A nil names slice means every tool; names not in the set are
// skipped.
func (s ToolSet) Definitions(names []string) []model.ToolDefinition {
	if names == nil {
		names = s.Names()
	} else {
		names = append([]string(nil), names...)
		sort.Strings(names)
	}
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, n := range names {
		if t, ok := s[n]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// ── Registry ────────────────────────────────────────────────

// Registry is the immutable name → descriptor table built at startup.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry builds a registry. Names must be unique and non-empty.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t == nil || t.Name == "" {
			return nil, fmt.Errorf("tool registry: tool without name")
		}
		if t.Execute == nil {
			return nil, fmt.Errorf("tool registry: tool %s has no execute function", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("tool registry: duplicate tool %s", t.Name)
		}
		r.tools[t.Name] = t
	}
	return r, nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	return ToolSet(r.tools).Names()
}

// All returns a new ToolSet holding every registered tool.
func (r *Registry) All() ToolSet {
	out := make(ToolSet, len(r.tools))
	for k, v := range r.tools {
		out[k] = v
	}
	return out
}

// Set assembles a new ToolSet from the named tools.
func (r *Registry) Set(names ...string) (ToolSet, error) {
	out := make(ToolSet, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, cerr.Newf(cerr.ToolNotFound, "tool %s is not registered", n)
		}
		out[n] = t
	}
	return out, nil
}
