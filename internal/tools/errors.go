// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool registration and
// execution.
package tools

import "fmt"

// DuplicateToolNameError is returned when registering a tool whose
// name is already taken. Registration never silently overwrites.
type DuplicateToolNameError struct {
	Name string
}

func (e *DuplicateToolNameError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError is returned when a name does not resolve to a
// registered tool. This indicates a capability mismatch, not a
// transient execution failure; callers should not retry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// InvalidArgumentsError is returned when a tool call's arguments do
// not satisfy the tool's input schema. The call never reaches the
// handler.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, e.Reason)
}

// ExecutionError wraps a fault inside a tool handler, including
// recovered panics, so one tool's failure cannot crash the agent loop.
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
