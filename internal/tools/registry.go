package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. It is constructed and populated at
// startup, then read-only; no locking is needed for concurrent
// invocation.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Duplicate names fail rather than overwrite.
func (r *Registry) Register(t *Tool) error {
	if _, exists := r.tools[t.Name]; exists {
		return &DuplicateToolNameError{Name: t.Name}
	}
	r.tools[t.Name] = t
	r.logger.Debug("tool registered", "tool", t.Name)
	return nil
}

// MustRegister registers a tool and panics on duplicate names. For
// use in startup wiring where a duplicate is a programming error.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the descriptors for the named tools, in the given
// order. Any unregistered name fails the whole resolution.
func (r *Registry) Resolve(names []string) ([]*Tool, error) {
	result := make([]*Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, &UnknownToolError{Name: name}
		}
		result = append(result, t)
	}
	return result, nil
}

// Definitions converts tool descriptors to the wire format offered to
// the reasoning engine.
func Definitions(tools []*Tool) []map[string]any {
	var result []map[string]any
	for _, t := range tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Invoke validates args against the tool's input schema and runs the
// handler. Handler faults, including panics, are wrapped in
// ExecutionError so a misbehaving tool cannot take down the caller.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result string, err error) {
	t, ok := r.tools[name]
	if !ok {
		return "", &UnknownToolError{Name: name}
	}

	if reason := validateArgs(t.Parameters, args); reason != "" {
		return "", &InvalidArgumentsError{Tool: name, Reason: reason}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			err = &ExecutionError{Tool: name, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()

	result, err = t.Handler(ctx, args)
	if err != nil {
		return "", &ExecutionError{Tool: name, Cause: err}
	}
	return result, nil
}

// validateArgs checks args against a JSON-schema-style parameters
// object ({"type":"object","properties":{...},"required":[...]}). It
// returns an empty string when valid, otherwise the reason.
func validateArgs(schema, args map[string]any) string {
	if schema == nil {
		return ""
	}

	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return fmt.Sprintf("missing required field %q", field)
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, f := range required {
			field, _ := f.(string)
			if _, present := args[field]; !present {
				return fmt.Sprintf("missing required field %q", field)
			}
		}
	}

	for field, value := range args {
		spec, ok := props[field].(map[string]any)
		if !ok {
			continue // unknown fields pass through untyped
		}
		wantType, _ := spec["type"].(string)
		if wantType == "" || value == nil {
			continue
		}
		if !typeMatches(wantType, value) {
			return fmt.Sprintf("field %q: expected %s, got %T", field, wantType, value)
		}
	}
	return ""
}

// typeMatches checks a decoded JSON value against a schema type name.
// JSON numbers decode as float64, so "integer" accepts whole floats.
func typeMatches(wantType string, value any) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
