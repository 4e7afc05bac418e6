package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
session:
  ttl: 90m
  sweep_interval: 30

agent:
  engine_backoff: 250ms
  engine_timeout: 1m30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := cfg.Session.TTL.Std(); got != 90*time.Minute {
		t.Errorf("ttl = %v, want 90m", got)
	}
	// Bare integers are seconds.
	if got := cfg.Session.SweepInterval.Std(); got != 30*time.Second {
		t.Errorf("sweep_interval = %v, want 30s", got)
	}
	if got := cfg.Agent.EngineBackoff.Std(); got != 250*time.Millisecond {
		t.Errorf("engine_backoff = %v, want 250ms", got)
	}
	if got := cfg.Agent.EngineTimeout.Std(); got != 90*time.Second {
		t.Errorf("engine_timeout = %v, want 1m30s", got)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "session:\n  ttl: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadKeepsDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.Agent.Model != "qwen3:4b" {
		t.Errorf("model default missing, got %q", cfg.Agent.Model)
	}
	if got := cfg.Session.TTL.Std(); got != 3*time.Hour {
		t.Errorf("ttl default = %v, want 3h", got)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PARLEY_TEST_KEY", "sk-from-env")
	path := writeConfig(t, "anthropic:\n  api_key: ${PARLEY_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want expanded env value", cfg.Anthropic.APIKey)
	}
}
