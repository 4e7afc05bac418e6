package llm

import (
	"encoding/json"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "Hello!"},
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "What time is it in Tokyo?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a helpful assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}

	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}

	if result[0].Role != "user" {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "How many days until March 1st?"},
		{
			Role:      "assistant",
			ToolCalls: []ToolCall{NewToolCall("toolu_abc123", "date_difference", map[string]any{"date1": "2026-03-01"})},
		},
		{Role: "tool", Content: "42 days", ToolCallID: "toolu_abc123"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a helpful assistant." {
		t.Errorf("unexpected system: %q", system)
	}

	if len(result) != 3 { // user, assistant with tool_use, user with tool_result
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	assistantContent, ok := result[1].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected assistant content to be []anthropicContent")
	}
	if len(assistantContent) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(assistantContent))
	}
	if assistantContent[0].Type != "tool_use" {
		t.Errorf("expected tool_use block, got %s", assistantContent[0].Type)
	}
	if assistantContent[0].ID != "toolu_abc123" {
		t.Errorf("expected tool_use ID toolu_abc123, got %s", assistantContent[0].ID)
	}

	toolResultContent, ok := result[2].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected tool result content to be []anthropicContent")
	}
	if toolResultContent[0].Type != "tool_result" {
		t.Errorf("expected tool_result block, got %s", toolResultContent[0].Type)
	}
	if toolResultContent[0].ToolUseID != "toolu_abc123" {
		t.Errorf("expected tool_use_id toolu_abc123, got %s", toolResultContent[0].ToolUseID)
	}
	if result[2].Role != "user" {
		t.Errorf("tool results must be sent as user messages, got %s", result[2].Role)
	}
}

func TestConvertToAnthropicMissingToolCallID(t *testing.T) {
	messages := []Message{
		{
			Role:      "assistant",
			ToolCalls: []ToolCall{NewToolCall("", "date_add", map[string]any{"days": 7})},
		},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result))
	}

	blocks := result[0].Content.([]anthropicContent)
	if blocks[0].ID != "toolu_date_add_0" {
		t.Errorf("expected synthesized tool_use id, got %q", blocks[0].ID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "date_difference",
				"description": "Compute the difference between two dates.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date1": map[string]any{"type": "string"},
						"date2": map[string]any{"type": "string"},
					},
					"required": []string{"date1"},
				},
			},
		},
	}

	result := convertToolsToAnthropic(tools)

	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Name != "date_difference" {
		t.Errorf("expected name date_difference, got %s", result[0].Name)
	}
	if result[0].InputSchema == nil {
		t.Error("expected input_schema to be set")
	}

	// The converted tool must serialize with input_schema, not parameters.
	data, err := json.Marshal(result[0])
	if err != nil {
		t.Fatalf("marshal tool: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal tool: %v", err)
	}
	if _, ok := decoded["input_schema"]; !ok {
		t.Error("expected input_schema key in serialized tool")
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model: "claude-sonnet-4-20250514",
		Role:  "assistant",
		Content: []anthropicContent{
			{Type: "text", Text: "Let me check."},
			{Type: "tool_use", ID: "toolu_1", Name: "date_add", Input: map[string]any{"days": float64(7)}},
		},
		Usage: anthropicUsage{InputTokens: 120, OutputTokens: 45},
	}

	result := convertFromAnthropic(resp)

	if result.Message.Content != "Let me check." {
		t.Errorf("unexpected content: %q", result.Message.Content)
	}
	if !result.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	if result.Message.ToolCalls[0].Function.Name != "date_add" {
		t.Errorf("unexpected tool name: %s", result.Message.ToolCalls[0].Function.Name)
	}
	if result.InputTokens != 120 || result.OutputTokens != 45 {
		t.Errorf("unexpected usage: %d/%d", result.InputTokens, result.OutputTokens)
	}
	if !result.Done {
		t.Error("non-streaming responses must be marked done")
	}
}
