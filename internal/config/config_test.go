package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://real:secret@db:5432/mnemo")

	path := writeConfig(t, `{
		"server": {"port": 8080, "log_level": "${TEST_LOG_LEVEL:info}"},
		"database": {
			"postgres": {"dsn": "${TEST_PG_DSN}"},
			"redis": {"url": "${TEST_REDIS_URL:redis://localhost:6379/0}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Postgres.DSN != "postgres://real:secret@db:5432/mnemo" {
		t.Errorf("DSN = %q, env substitution failed", cfg.Database.Postgres.DSN)
	}
	// unset vars fall back to the default after the colon
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.Server.LogLevel)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis URL = %q, want default", cfg.Database.Redis.URL)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `{
		"memory": {"buffer_cap": 50, "sweep_interval": "6h", "archive_after": "720h"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Duration(cfg.Memory.SweepInterval) != 6*time.Hour {
		t.Errorf("SweepInterval = %v, want 6h", time.Duration(cfg.Memory.SweepInterval))
	}
	if time.Duration(cfg.Memory.ArchiveAfter) != 720*time.Hour {
		t.Errorf("ArchiveAfter = %v, want 720h", time.Duration(cfg.Memory.ArchiveAfter))
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `{"memory": {"sweep_interval": "six hours"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadPersonas(t *testing.T) {
	path := writeConfig(t, `{
		"personas": [
			{"id": "companion", "model": "phi3:14b", "temperature": 0.8,
			 "system_prompt": "be warm", "provider": "local", "fallbacks": ["cloud"]}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Personas) != 1 {
		t.Fatalf("len(Personas) = %d, want 1", len(cfg.Personas))
	}
	p := cfg.Personas[0]
	if p.Model != "phi3:14b" || p.Temperature != 0.8 {
		t.Errorf("persona = %+v", p)
	}
	if len(p.Fallbacks) != 1 || p.Fallbacks[0] != "cloud" {
		t.Errorf("Fallbacks = %v, want [cloud]", p.Fallbacks)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
