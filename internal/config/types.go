package config

// SchedulerConfig tunes the core loop.
type SchedulerConfig struct {
	TickIntervalMS int    `json:"tick_interval_ms"` // Scheduler tick period
	DBPath         string `json:"db_path"`          // SQLite database path
	WorkDir        string `json:"work_dir"`         // Working directory for backends and gates
}

// BudgetConfig sets the ratios at which budget levels trip.
type BudgetConfig struct {
	WarningRatio  float64 `json:"warning_ratio"`  // Spend ratio that raises a warning (default 0.80)
	CriticalRatio float64 `json:"critical_ratio"` // Spend ratio that is critical (default 0.95)
}

// RetryConfig tunes the work-item retry schedule.
type RetryConfig struct {
	BaseDelayMS       int     `json:"base_delay_ms"`       // First retry delay
	MaxDelayMS        int     `json:"max_delay_ms"`        // Delay ceiling
	JitterFactor      float64 `json:"jitter_factor"`       // Random spread on top of the delay
	DefaultMaxRetries int     `json:"default_max_retries"` // Used when a work item sets no limit
}

// GateConfig sets quality-gate execution defaults.
type GateConfig struct {
	DefaultTimeoutSeconds int  `json:"default_timeout_seconds"` // Per-gate timeout when the gate sets none
	ContinueOnFailure     bool `json:"continue_on_failure"`     // Run remaining gates after a required failure
}

// BackendConfig defines the CLI command behind one execution backend.
// Backends are separate from work items -- the selector maps items onto
// backends at launch time.
type BackendConfig struct {
	Command string   `json:"command"`        // CLI binary name (e.g., "claude", "codex")
	Args    []string `json:"args,omitempty"` // Default args appended to every invocation
}

// Config is the top-level configuration.
type Config struct {
	Scheduler    SchedulerConfig          `json:"scheduler"`
	Lanes        map[string]int           `json:"lanes"` // Lane name -> concurrency limit
	Budget       BudgetConfig             `json:"budget"`
	Retry        RetryConfig              `json:"retry"`
	Gates        GateConfig               `json:"gates"`
	Backends     map[string]BackendConfig `json:"backends"`
	BackendOrder []string                 `json:"backend_order"` // Preference order for backend selection
}
