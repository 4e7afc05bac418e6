package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo the input back.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("first register: %v", err)
	}

	err := r.Register(echoTool())
	var dup *DuplicateToolNameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateToolNameError, got %v", err)
	}
	if dup.Name != "echo" {
		t.Errorf("unexpected name in error: %q", dup.Name)
	}
}

func TestResolveUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(echoTool())

	resolved, err := r.Resolve([]string{"echo"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].Name != "echo" {
		t.Errorf("unexpected resolution: %+v", resolved)
	}

	_, err = r.Resolve([]string{"echo", "upper"})
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if unknown.Name != "upper" {
		t.Errorf("unexpected name in error: %q", unknown.Name)
	}
}

func TestResolvePreservesOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"c", "a", "b"} {
		n := name
		r.MustRegister(&Tool{
			Name:    n,
			Handler: func(_ context.Context, _ map[string]any) (string, error) { return n, nil },
		})
	}

	resolved, err := r.Resolve([]string{"b", "c", "a"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := []string{resolved[0].Name, resolved[1].Name, resolved[2].Name}
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestInvokeValidatesArguments(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(echoTool())

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"text": "hello"}, false},
		{"missing required", map[string]any{}, true},
		{"wrong type", map[string]any{"text": 42}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Invoke(context.Background(), "echo", tt.args)
			if tt.wantErr {
				var invalid *InvalidArgumentsError
				if !errors.As(err, &invalid) {
					t.Fatalf("expected InvalidArgumentsError, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("invoke: %v", err)
			}
		})
	}
}

func TestInvokeWrapsHandlerErrors(t *testing.T) {
	r := NewRegistry(nil)
	cause := errors.New("backend unreachable")
	r.MustRegister(&Tool{
		Name: "flaky",
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "", cause
		},
	})

	_, err := r.Invoke(context.Background(), "flaky", nil)
	var exec *ExecutionError
	if !errors.As(err, &exec) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestInvokeRecoversPanics(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(&Tool{
		Name: "boom",
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			panic("nil map write")
		},
	})

	_, err := r.Invoke(context.Background(), "boom", nil)
	var exec *ExecutionError
	if !errors.As(err, &exec) {
		t.Fatalf("expected ExecutionError from panic, got %v", err)
	}
}

func TestInvokeWithRetry(t *testing.T) {
	r := NewRegistry(nil)
	calls := 0
	r.MustRegister(&Tool{
		Name: "flaky",
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("transient failure %d", calls)
			}
			return "ok", nil
		},
	})

	result, err := r.InvokeWithRetry(context.Background(), "flaky", nil, RetryPolicy{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("expected ok after 3 calls, got %q after %d", result, calls)
	}

	// Unknown tools are permanent and must not burn attempts.
	_, err = r.InvokeWithRetry(context.Background(), "missing", nil, RetryPolicy{MaxAttempts: 3})
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
}

func TestDefinitionsWireFormat(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(echoTool())

	resolved, _ := r.Resolve([]string{"echo"})
	defs := Definitions(resolved)
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	fn, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatal("expected function wrapper")
	}
	if fn["name"] != "echo" {
		t.Errorf("unexpected name: %v", fn["name"])
	}
	if fn["parameters"] == nil {
		t.Error("expected parameters in definition")
	}
}
