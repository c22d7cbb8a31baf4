package config

// DefaultConfig returns the default configuration with built-in lanes,
// backends, and retry settings.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			TickIntervalMS: 1000,
			DBPath:         ".dirigent/dirigent.db",
			WorkDir:        ".",
		},
		Lanes: map[string]int{
			"primary":  1,
			"subagent": 3,
			"cron":     2,
			"session":  1,
		},
		Budget: BudgetConfig{
			WarningRatio:  0.80,
			CriticalRatio: 0.95,
		},
		Retry: RetryConfig{
			BaseDelayMS:       500,
			MaxDelayMS:        30000,
			JitterFactor:      0.25,
			DefaultMaxRetries: 3,
		},
		Gates: GateConfig{
			DefaultTimeoutSeconds: 120,
			ContinueOnFailure:     false,
		},
		Backends: map[string]BackendConfig{
			"claude": {
				Command: "claude",
				Args:    []string{"--print", "--output-format", "json"},
			},
			"codex": {
				Command: "codex",
				Args:    []string{"exec", "--json"},
			},
		},
		BackendOrder: []string{"claude", "codex"},
	}
}
