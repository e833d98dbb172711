// Package config loads and validates the choirosd configuration file.
//
// Grounded on the teacher's internal/config/loader.go (YAML + $include +
// env-var expansion, unchanged) and internal/config/config.go's
// Load/applyDefaults/validateConfig shape, with the schema itself replaced:
// ChoirOS has no messaging channels, LLM-provider routing, or plugin
// marketplace, so this file carries only what §4.10 names — listen address,
// event-store path, document root, per-role model bindings, per-role
// retry/timeout/step-cap policy, sandbox backend selection, and logging.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level choirosd configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Documents DocumentsConfig `yaml:"documents"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Models    ModelsConfig    `yaml:"models"`
	Policy    PolicyConfig    `yaml:"policy"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the §6 HTTP/WS front door.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig points at the §4.1 EventStore's backing SQLite file.
type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DocumentsConfig locates the §4.3 RunWriter's document root.
type DocumentsConfig struct {
	Root string `yaml:"root"`
}

// WorkspaceConfig locates the working directory §4.5 TerminalAgent
// sessions and §4.6 ResearcherAgent scratch files run under.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ModelsConfig binds the §4.7/§9 conductor and §4.4 worker roles to
// concrete model clients, mirroring the teacher's per-provider LLM config
// but keyed by ChoirOS role instead of channel.
type ModelsConfig struct {
	Bindings []ModelBinding `yaml:"bindings"`
}

// ModelBinding names the provider/model pair (and a fallback chain) a role
// resolves to. APIKeyEnv names the environment variable holding the
// provider credential (§6 "provider credentials read from env").
type ModelBinding struct {
	Role      string   `yaml:"role"`
	Provider  string   `yaml:"provider"`
	Model     string   `yaml:"model"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Fallbacks []string `yaml:"fallbacks"`
}

// PolicyConfig carries the §9 baseline defaults: 2 retries per agenda item,
// 30s per tool call, 120s per run, 6 planner steps per worker.
type PolicyConfig struct {
	RetriesPerAgendaItem int           `yaml:"retries_per_agenda_item"`
	ToolCallTimeout      time.Duration `yaml:"tool_call_timeout"`
	RunTimeout           time.Duration `yaml:"run_timeout"`
	MaxPlannerSteps      int           `yaml:"max_planner_steps"`
	AutoReapplyOverlays  bool          `yaml:"auto_reapply_overlays"`
}

// SandboxConfig selects the backend §4.5 TerminalAgent spawns child
// processes under.
type SandboxConfig struct {
	Backend string `yaml:"backend"`
}

// LoggingConfig configures the slog handler (§4.10 Logging).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, decodes, defaults, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyDocumentsDefaults(&cfg.Documents)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyPolicyDefaults(&cfg.Policy)
	applySandboxDefaults(&cfg.Sandbox)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "choiros.db"
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
}

func applyDocumentsDefaults(cfg *DocumentsConfig) {
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = "conductor/runs"
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = "workspace"
	}
}

// Baseline defaults from §9 Design Notes.
func applyPolicyDefaults(cfg *PolicyConfig) {
	if cfg.RetriesPerAgendaItem <= 0 {
		cfg.RetriesPerAgendaItem = 2
	}
	if cfg.ToolCallTimeout <= 0 {
		cfg.ToolCallTimeout = 30 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 120 * time.Second
	}
	if cfg.MaxPlannerSteps <= 0 {
		cfg.MaxPlannerSteps = 6
	}
	// AutoReapplyOverlays defaults to false (§9 Open Question default).
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "local-pty"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if strings.TrimSpace(cfg.Level) == "" {
		cfg.Level = "info"
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("CHOIROS_LISTEN_ADDR")); value != "" {
		cfg.Server.ListenAddr = value
	}
	if value := strings.TrimSpace(os.Getenv("CHOIROS_DB_PATH")); value != "" {
		cfg.Database.Path = value
	}
	if value := strings.TrimSpace(os.Getenv("CHOIROS_DOCUMENT_ROOT")); value != "" {
		cfg.Documents.Root = value
	}
	if value := strings.TrimSpace(os.Getenv("CHOIROS_WORKSPACE_ROOT")); value != "" {
		cfg.Workspace.Root = value
	}
	if value := strings.TrimSpace(os.Getenv("CHOIROS_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ConfigValidationError collects every validation failure found in one pass,
// matching the teacher's "report everything, not just the first issue" style.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		issues = append(issues, "server.listen_addr must not be empty")
	}
	if strings.TrimSpace(cfg.Database.Path) == "" {
		issues = append(issues, "database.path must not be empty")
	}
	if len(cfg.Models.Bindings) == 0 {
		issues = append(issues, "models.bindings must name at least one role binding")
	}
	seenRoles := map[string]bool{}
	for i, b := range cfg.Models.Bindings {
		if strings.TrimSpace(b.Role) == "" {
			issues = append(issues, fmt.Sprintf("models.bindings[%d].role must not be empty", i))
			continue
		}
		if seenRoles[b.Role] {
			issues = append(issues, fmt.Sprintf("models.bindings declares role %q more than once", b.Role))
		}
		seenRoles[b.Role] = true
		if strings.TrimSpace(b.Provider) == "" {
			issues = append(issues, fmt.Sprintf("models.bindings[%d] (%s) must name a provider", i, b.Role))
		}
		if strings.TrimSpace(b.Model) == "" {
			issues = append(issues, fmt.Sprintf("models.bindings[%d] (%s) must name a model", i, b.Role))
		}
	}
	if !seenRoles["conductor"] {
		issues = append(issues, "models.bindings must include a \"conductor\" role binding")
	}
	if cfg.Policy.RetriesPerAgendaItem < 0 {
		issues = append(issues, "policy.retries_per_agenda_item must be >= 0")
	}
	if cfg.Policy.MaxPlannerSteps <= 0 {
		issues = append(issues, "policy.max_planner_steps must be > 0")
	}
	if !validSandboxBackend(cfg.Sandbox.Backend) {
		issues = append(issues, "sandbox.backend must be \"local-pty\" or \"docker\"")
	}
	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be one of debug, info, warn, error")
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validSandboxBackend(v string) bool {
	return v == "local-pty" || v == "docker"
}

func validLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validLogFormat(v string) bool {
	return v == "json" || v == "text"
}

// DefaultWorkspaceConfig returns the workspace defaults used by choirosd
// doctor/setup when no config file has been loaded yet.
func DefaultWorkspaceConfig() WorkspaceConfig {
	cfg := WorkspaceConfig{}
	applyWorkspaceDefaults(&cfg)
	return cfg
}

// DefaultModelBindings returns a minimal conductor-only binding set, used
// by onboarding flows before a user supplies real provider credentials.
func DefaultModelBindings() []ModelBinding {
	return []ModelBinding{
		{Role: "conductor", Provider: "anthropic", Model: "claude-sonnet", APIKeyEnv: "ANTHROPIC_API_KEY"},
	}
}
