package config

import (
	"os"
	"path/filepath"
)

// Default values applied when a field is left unset
const (
	DefaultAddr                = ":8787"
	DefaultServerURL           = "http://127.0.0.1:8787"
	DefaultMaxRetries          = 3
	DefaultStartRatePerMinute  = 30
	DefaultStartBurst          = 5
	DefaultShutdownTimeout     = 10
	DefaultScriptsDir          = "scripts"
	DefaultRunsDir             = "scripts/analysis/ui-runs"
	DefaultTicketsJSONDir      = "scripts/tickets-json"
	DefaultGoldenRules         = "scripts/trained-data/golden-rules-engine/rule-engine.csv"
	DefaultTrainingData        = "scripts/trained-data/ml-training-data.csv"
	DefaultMinSamples          = 20
	DefaultMaxReviewRows       = 200
	DefaultKillGraceSeconds    = 10
	DefaultFetchLimit          = 100000
	DefaultSaveIntervalSeconds = 5
	DefaultStaleAfterHours     = 24
	DefaultLogLevel            = "info"
	DefaultSessionDirName      = "stc"
)

// DefaultLauncher is the program prefix used to run every pipeline script
func DefaultLauncher() []string {
	return []string{"uv", "run", "python3"}
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// defaultSessionDir picks the per-user config directory, falling back to ./.stc
func defaultSessionDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, DefaultSessionDirName)
	}
	return ".stc"
}
