package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse TOML
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the file does not exist
func LoadOrDefault(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.StartRatePerMinute == 0 {
		cfg.Server.StartRatePerMinute = DefaultStartRatePerMinute
	}
	if cfg.Server.StartBurst == 0 {
		cfg.Server.StartBurst = DefaultStartBurst
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = DefaultShutdownTimeout
	}

	// Pipeline defaults
	if cfg.Pipeline.RepoRoot == "" {
		cfg.Pipeline.RepoRoot = "."
	}
	if cfg.Pipeline.ScriptsDir == "" {
		cfg.Pipeline.ScriptsDir = DefaultScriptsDir
	}
	if cfg.Pipeline.RunsDir == "" {
		cfg.Pipeline.RunsDir = DefaultRunsDir
	}
	if cfg.Pipeline.TicketsJSONDir == "" {
		cfg.Pipeline.TicketsJSONDir = DefaultTicketsJSONDir
	}
	if cfg.Pipeline.GoldenRules == "" {
		cfg.Pipeline.GoldenRules = DefaultGoldenRules
	}
	if len(cfg.Pipeline.Launcher) == 0 {
		cfg.Pipeline.Launcher = DefaultLauncher()
	}
	if cfg.Pipeline.DefaultTrainingData == "" {
		cfg.Pipeline.DefaultTrainingData = DefaultTrainingData
	}
	if cfg.Pipeline.DefaultMinSamples == 0 {
		cfg.Pipeline.DefaultMinSamples = DefaultMinSamples
	}
	if cfg.Pipeline.DefaultMaxReviewRows == 0 {
		cfg.Pipeline.DefaultMaxReviewRows = DefaultMaxReviewRows
	}
	// NOTE: In TOML, we can't distinguish 0 from unset, so 0 means the default grace
	if cfg.Pipeline.KillGraceSeconds == 0 {
		cfg.Pipeline.KillGraceSeconds = DefaultKillGraceSeconds
	}
	if cfg.Pipeline.FetchLimit == 0 {
		cfg.Pipeline.FetchLimit = DefaultFetchLimit
	}

	// Session mirror defaults
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = defaultSessionDir()
	}
	if cfg.Session.SaveIntervalSeconds == 0 {
		cfg.Session.SaveIntervalSeconds = DefaultSaveIntervalSeconds
	}
	if cfg.Session.StaleAfterHours == 0 {
		cfg.Session.StaleAfterHours = DefaultStaleAfterHours
	}

	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = DefaultServerURL
	}
	if cfg.Client.MaxRetries == 0 {
		cfg.Client.MaxRetries = DefaultMaxRetries
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}
