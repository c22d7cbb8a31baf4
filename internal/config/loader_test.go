package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.TickIntervalMS != 1000 {
		t.Errorf("TickIntervalMS = %d, want 1000", cfg.Scheduler.TickIntervalMS)
	}
	if cfg.Lanes["subagent"] != 3 {
		t.Errorf("subagent lane = %d, want 3", cfg.Lanes["subagent"])
	}
	if cfg.Budget.WarningRatio != 0.80 {
		t.Errorf("WarningRatio = %f, want 0.80", cfg.Budget.WarningRatio)
	}
	if _, ok := cfg.Backends["claude"]; !ok {
		t.Error("default backends missing claude")
	}
}

func TestLoadMissingFilesNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("Load with missing files failed: %v", err)
	}
	if cfg.Retry.DefaultMaxRetries != 3 {
		t.Errorf("DefaultMaxRetries = %d, want 3", cfg.Retry.DefaultMaxRetries)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", "{not json")

	if _, err := Load(path, ""); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestLoadGlobalOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "global.json", `{
		"scheduler": {"tick_interval_ms": 250, "db_path": "custom.db", "work_dir": "/tmp"},
		"lanes": {"subagent": 8}
	}`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.TickIntervalMS != 250 {
		t.Errorf("TickIntervalMS = %d, want 250", cfg.Scheduler.TickIntervalMS)
	}
	if cfg.Lanes["subagent"] != 8 {
		t.Errorf("subagent lane = %d, want 8", cfg.Lanes["subagent"])
	}
	// Untouched lanes keep their defaults.
	if cfg.Lanes["primary"] != 1 {
		t.Errorf("primary lane = %d, want 1", cfg.Lanes["primary"])
	}
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	globalPath := writeConfig(t, dir, "global.json", `{
		"retry": {"base_delay_ms": 100, "max_delay_ms": 5000, "jitter_factor": 0.1, "default_max_retries": 5},
		"backends": {"gemini": {"command": "gemini"}}
	}`)
	projectPath := writeConfig(t, dir, "project.json", `{
		"retry": {"base_delay_ms": 200, "max_delay_ms": 10000, "jitter_factor": 0.2, "default_max_retries": 2},
		"backend_order": ["gemini", "claude"]
	}`)

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retry.BaseDelayMS != 200 || cfg.Retry.DefaultMaxRetries != 2 {
		t.Errorf("project retry did not win: %+v", cfg.Retry)
	}
	// Backends merged from global survive the project merge.
	if _, ok := cfg.Backends["gemini"]; !ok {
		t.Error("global backend gemini lost")
	}
	if len(cfg.BackendOrder) != 2 || cfg.BackendOrder[0] != "gemini" {
		t.Errorf("BackendOrder = %v", cfg.BackendOrder)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Scheduler.TickIntervalMS = 42
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if loaded.Scheduler.TickIntervalMS != 42 {
		t.Errorf("TickIntervalMS = %d, want 42", loaded.Scheduler.TickIntervalMS)
	}
}
