package mail

import (
	"strings"
	"testing"
)

func TestComposeMultipart(t *testing.T) {
	msg, err := Compose(ComposeOptions{
		From:    "Parley <agent@example.com>",
		To:      []string{"user@example.com"},
		Subject: "Weekly summary",
		Body:    "Hello **world**, see [the docs](https://example.com).",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	s := string(msg)
	for _, want := range []string{
		"From: \"Parley\" <agent@example.com>",
		"To: <user@example.com>",
		"Subject: Weekly summary",
		"multipart/alternative",
		"text/plain",
		"text/html",
		"Message-Id:",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if !strings.Contains(s, "<strong>world</strong>") {
		t.Errorf("HTML part missing rendered bold text")
	}
}

func TestComposeInvalidAddress(t *testing.T) {
	_, err := Compose(ComposeOptions{
		From:    "agent@example.com",
		To:      []string{"not an address"},
		Subject: "x",
		Body:    "x",
	})
	if err == nil {
		t.Fatal("expected error for invalid recipient address")
	}
}

func TestMarkdownToPlain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**hi**", "hi"},
		{"link", "[docs](https://example.com)", "docs (https://example.com)"},
		{"heading", "# Title\nbody", "Title\nbody"},
		{"inline code", "run `go version` now", "run go version now"},
		{"image", "![alt text](pic.png)", "alt text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := markdownToPlain(tt.in); got != tt.want {
				t.Errorf("markdownToPlain(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecipientAllowed(t *testing.T) {
	cfg := Config{AllowedRecipients: []string{"Alice@Example.com", "bob@example.com"}}
	if !cfg.RecipientAllowed("alice@example.com") {
		t.Error("case-insensitive match should be allowed")
	}
	if cfg.RecipientAllowed("mallory@example.com") {
		t.Error("unlisted recipient should be denied")
	}
	open := Config{}
	if !open.RecipientAllowed("anyone@example.com") {
		t.Error("empty allowlist should permit all recipients")
	}
}
