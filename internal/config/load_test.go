package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.Port != 18800 {
		t.Fatalf("port = %d, want default 18800", cfg.Daemon.Port)
	}
	if cfg.Orchestrator.TickIntervalMS != 5000 {
		t.Fatalf("tick = %d, want 5000", cfg.Orchestrator.TickIntervalMS)
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// local overrides
		daemon: { port: 19000 },
		orchestrator: { model: "gpt-4o", tick_interval_ms: 1000, enabled: false },
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.Port != 19000 {
		t.Fatalf("port = %d, want 19000", cfg.Daemon.Port)
	}
	if cfg.Orchestrator.Model != "gpt-4o" || cfg.Orchestrator.Enabled {
		t.Fatalf("orchestrator not overridden: %+v", cfg.Orchestrator)
	}
	// Untouched fields keep defaults.
	if cfg.Daemon.MaxSessions != 20 {
		t.Fatalf("max_sessions = %d, want 20", cfg.Daemon.MaxSessions)
	}
}

func TestApplyEnv_SecretsFromEnvOnly(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ORCHARD_DAEMON_PORT", "20123")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test" {
		t.Fatalf("api key not read from env")
	}
	if cfg.Daemon.Port != 20123 {
		t.Fatalf("port = %d, want env override 20123", cfg.Daemon.Port)
	}
	if !cfg.HasAnyProvider() {
		t.Fatal("HasAnyProvider = false, want true")
	}
}
