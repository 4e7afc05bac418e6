package prompts

import (
	"strings"
	"testing"
	"time"
)

func TestCondensePromptIncludesConversation(t *testing.T) {
	prompt := CondensePrompt("", "user: hello\nassistant: hi")
	if !strings.Contains(prompt, "user: hello") {
		t.Error("expected conversation text in prompt")
	}
	if strings.Contains(prompt, "[Summary of earlier conversation]") {
		t.Error("prior summary section should be absent when summary is empty")
	}
}

func TestCondensePromptFoldsPriorSummary(t *testing.T) {
	prompt := CondensePrompt("- user likes jazz", "user: recommend an album")
	if !strings.Contains(prompt, "- user likes jazz") {
		t.Error("expected prior summary in prompt")
	}
	if !strings.Contains(prompt, "[Recent messages]") {
		t.Error("expected recent messages marker")
	}
}

func TestSystemPromptListsTools(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	prompt := SystemPrompt(now, []string{"date_add", "date_difference"})
	if !strings.Contains(prompt, "Saturday, August 29, 2026") {
		t.Error("expected formatted date in prompt")
	}
	if !strings.Contains(prompt, "- date_add") {
		t.Error("expected tool list in prompt")
	}

	empty := SystemPrompt(now, nil)
	if !strings.Contains(empty, "none") {
		t.Error("expected 'none' when no tools enabled")
	}
}
