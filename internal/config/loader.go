package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.dirigent/config.json
// Project: .dirigent/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".dirigent", "config.json")
	projectPath := filepath.Join(".dirigent", "config.json")

	return Load(globalPath, projectPath)
}

// fileConfig mirrors Config with pointer sections so a merge can tell an
// absent section from a zero-valued one.
type fileConfig struct {
	Scheduler    *SchedulerConfig         `json:"scheduler"`
	Lanes        map[string]int           `json:"lanes"`
	Budget       *BudgetConfig            `json:"budget"`
	Retry        *RetryConfig             `json:"retry"`
	Gates        *GateConfig              `json:"gates"`
	Backends     map[string]BackendConfig `json:"backends"`
	BackendOrder []string                 `json:"backend_order"`
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped. Malformed JSON returns an
// error. Map sections merge per key; struct sections replace wholesale when
// present.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded fileConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Scheduler != nil {
		base.Scheduler = *loaded.Scheduler
	}
	if loaded.Budget != nil {
		base.Budget = *loaded.Budget
	}
	if loaded.Retry != nil {
		base.Retry = *loaded.Retry
	}
	if loaded.Gates != nil {
		base.Gates = *loaded.Gates
	}
	for key, limit := range loaded.Lanes {
		base.Lanes[key] = limit
	}
	for key, backend := range loaded.Backends {
		base.Backends[key] = backend
	}
	if len(loaded.BackendOrder) > 0 {
		base.BackendOrder = loaded.BackendOrder
	}

	return nil
}
