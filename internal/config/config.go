// Package config loads the orchard control-plane configuration: a json5
// file overlaid with ORCHARD_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Config is the root configuration for the control plane and daemon.
type Config struct {
	Daemon       DaemonConfig       `json:"daemon"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Providers    ProvidersConfig    `json:"providers"`
	Janitor      JanitorConfig      `json:"janitor,omitempty"`
	Telemetry    TelemetryConfig    `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// DaemonConfig configures the terminal daemon and its WebSocket endpoint.
type DaemonConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	MaxSessions int    `json:"max_sessions"`

	// RateLimitRPS throttles inbound WebSocket connections.
	// 0 disables limiting.
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"`
}

// URL returns the daemon WebSocket URL clients dial.
func (d DaemonConfig) URL() string {
	return "ws://" + d.Host + ":" + strconv.Itoa(d.Port) + "/ws"
}

// OrchestratorConfig holds the hot-reloadable orchestrator settings.
type OrchestratorConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TickIntervalMS int    `json:"tick_interval_ms"`
	Enabled        bool   `json:"enabled"`
	// Paused suspends ticking while the loop keeps running; hot-reloadable
	// like the rest of this block.
	Paused bool `json:"paused,omitempty"`

	// AgentCommand is the coding-agent binary print sessions spawn.
	AgentCommand string `json:"agent_command"`
}

// ProvidersConfig holds LLM provider credentials. API keys are never
// persisted to the config file — env only.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	OpenAI    ProviderConfig `json:"openai,omitempty"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"-"` // from env only
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// JanitorConfig schedules the retention sweeps.
type JanitorConfig struct {
	// Schedule is a cron expression; empty disables the janitor.
	Schedule string `json:"schedule,omitempty"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Protocol string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	Insecure bool   `json:"insecure,omitempty"`
}

// HasAnyProvider reports whether at least one LLM provider has credentials.
func (c *Config) HasAnyProvider() bool {
	return c.Providers.Anthropic.APIKey != "" || c.Providers.OpenAI.APIKey != ""
}

// OrchardHome returns the process-wide state directory ($HOME/.orchard).
func OrchardHome() string {
	if v := os.Getenv("ORCHARD_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orchard"
	}
	return filepath.Join(home, ".orchard")
}

// RegistryDBPath returns the path of the process-wide registry database.
func RegistryDBPath() string {
	return filepath.Join(OrchardHome(), "registry.db")
}

// ProjectDir returns the per-project state directory (<path>/.orchard).
func ProjectDir(projectPath string) string {
	return filepath.Join(projectPath, ".orchard")
}

// ProjectDBPath returns the per-project database path.
func ProjectDBPath(projectPath string) string {
	return filepath.Join(ProjectDir(projectPath), "orchard.db")
}

// ProjectConfigPath returns the self-describing project config file path.
func ProjectConfigPath(projectPath string) string {
	return filepath.Join(ProjectDir(projectPath), "config.json")
}

// Snapshot returns a copy of the hot-reloadable orchestrator settings.
func (c *Config) Snapshot() OrchestratorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Orchestrator
}

// SetOrchestrator replaces the hot-reloadable settings.
func (c *Config) SetOrchestrator(oc OrchestratorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Orchestrator = oc
}
