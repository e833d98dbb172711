package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "choiros.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(body)+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func minimalValidConfig() string {
	return `
version: 1
models:
  bindings:
    - role: conductor
      provider: anthropic
      model: claude-sonnet
      api_key_env: ANTHROPIC_API_KEY
`
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalValidConfig())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("expected default listen_addr, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Database.Path != "choiros.db" {
		t.Fatalf("expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.Policy.RetriesPerAgendaItem != 2 {
		t.Fatalf("expected baseline retries=2, got %d", cfg.Policy.RetriesPerAgendaItem)
	}
	if cfg.Policy.MaxPlannerSteps != 6 {
		t.Fatalf("expected baseline max_planner_steps=6, got %d", cfg.Policy.MaxPlannerSteps)
	}
	if cfg.Policy.AutoReapplyOverlays {
		t.Fatalf("expected auto_reapply_overlays to default false")
	}
	if cfg.Sandbox.Backend != "local-pty" {
		t.Fatalf("expected default sandbox backend, got %q", cfg.Sandbox.Backend)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, minimalValidConfig()+"\nbogus_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_RequiresConductorBinding(t *testing.T) {
	path := writeConfig(t, `
version: 1
models:
  bindings:
    - role: worker
      provider: anthropic
      model: claude-haiku
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "conductor") {
		t.Fatalf("expected conductor-missing error, got %v", err)
	}
}

func TestLoad_RejectsDuplicateRole(t *testing.T) {
	path := writeConfig(t, `
version: 1
models:
  bindings:
    - role: conductor
      provider: anthropic
      model: claude-sonnet
    - role: conductor
      provider: openai
      model: gpt-4o
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for duplicate role")
	}
	if !strings.Contains(err.Error(), "more than once") {
		t.Fatalf("expected duplicate-role error, got %v", err)
	}
}

func TestLoad_RejectsUnknownSandboxBackend(t *testing.T) {
	path := writeConfig(t, minimalValidConfig()+"\nsandbox:\n  backend: qemu\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "sandbox.backend") {
		t.Fatalf("expected sandbox backend error, got %v", err)
	}
}

func TestLoad_RejectsOutdatedVersion(t *testing.T) {
	path := writeConfig(t, `
version: 0
models:
  bindings:
    - role: conductor
      provider: anthropic
      model: claude-sonnet
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected version validation error")
	}
}

func TestLoad_EnvOverridesListenAddr(t *testing.T) {
	path := writeConfig(t, minimalValidConfig())
	t.Setenv("CHOIROS_LISTEN_ADDR", "127.0.0.1:9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9090" {
		t.Fatalf("expected env override, got %q", cfg.Server.ListenAddr)
	}
}
