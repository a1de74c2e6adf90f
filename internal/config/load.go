package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Host:         "127.0.0.1",
			Port:         18800,
			MaxSessions:  20,
			RateLimitRPS: 10,
		},
		Orchestrator: OrchestratorConfig{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-5-20250929",
			TickIntervalMS: 5000,
			Enabled:        true,
			AgentCommand:   "claude",
		},
		Janitor: JanitorConfig{
			Schedule: "*/10 * * * *",
		},
	}
}

// Load reads config from a json5 file, then overlays env vars. A missing
// file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays ORCHARD_* environment variables. Secrets are env-only.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("ORCHARD_DAEMON_HOST"); v != "" {
		cfg.Daemon.Host = v
	}
	if v := os.Getenv("ORCHARD_DAEMON_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Daemon.Port = p
		}
	}
	if v := os.Getenv("ORCHARD_MODEL"); v != "" {
		cfg.Orchestrator.Model = v
	}
	if v := os.Getenv("ORCHARD_AGENT_COMMAND"); v != "" {
		cfg.Orchestrator.AgentCommand = v
	}
	if v := os.Getenv("ORCHARD_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}

// ExpandHome expands a leading ~ to the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
