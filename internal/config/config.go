package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Session  SessionConfig  `toml:"session"`
	Client   ClientConfig   `toml:"client"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr                   string `toml:"addr"`
	StartRatePerMinute     int    `toml:"start_rate_per_minute"`    // Pipeline start requests allowed per client per minute
	StartBurst             int    `toml:"start_burst"`              // Burst capacity for start requests
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"` // Graceful shutdown budget
}

// PipelineConfig holds the locations and launcher used by the phase controller
type PipelineConfig struct {
	RepoRoot             string   `toml:"repo_root"`               // Working directory of every external command
	ScriptsDir           string   `toml:"scripts_dir"`             // Relative to repo_root unless absolute
	RunsDir              string   `toml:"runs_dir"`                // Parent of every run directory
	TicketsJSONDir       string   `toml:"tickets_json_dir"`        // Where get_tickets.py -t drops KEY.json
	GoldenRules          string   `toml:"golden_rules"`            // Reference rule set seeded into each run
	Launcher             []string `toml:"launcher"`                // Program prefix for every script, e.g. uv run python3
	DefaultTrainingData  string   `toml:"default_training_data"`   // Used when a request leaves trainingData empty
	DefaultMinSamples    int      `toml:"default_min_samples"`     // Used when a request leaves minSamples unset
	DefaultMaxReviewRows int      `toml:"default_max_review_rows"` // Used when a request leaves maxReviewRows unset
	KillGraceSeconds     int      `toml:"kill_grace_seconds"`      // SIGTERM to SIGKILL escalation delay on cancel
	FetchLimit           int      `toml:"fetch_limit"`             // --number-of-tickets for query mode
}

// SessionConfig holds the client-side session mirror settings
type SessionConfig struct {
	Dir                 string `toml:"dir"`
	SaveIntervalSeconds int    `toml:"save_interval_seconds"`
	StaleAfterHours     int    `toml:"stale_after_hours"`
}

// ClientConfig holds settings for the CLI client commands
type ClientConfig struct {
	ServerURL  string `toml:"server_url"`
	MaxRetries int    `toml:"max_retries"` // Retries for rate-limited starts and failed reads
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `toml:"level"`
}

const (
	// MaxMinSamples is the maximum accepted default_min_samples
	MaxMinSamples = 1_000_000
	// MaxReviewRows is the maximum accepted default_max_review_rows
	MaxReviewRows = 1_000_000
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.StartRatePerMinute < 1 {
		return fmt.Errorf("server.start_rate_per_minute must be at least 1")
	}
	if c.Server.StartBurst < 1 {
		return fmt.Errorf("server.start_burst must be at least 1")
	}
	if c.Server.ShutdownTimeoutSeconds < 1 {
		return fmt.Errorf("server.shutdown_timeout_seconds must be at least 1")
	}

	if c.Pipeline.RepoRoot == "" {
		return fmt.Errorf("pipeline.repo_root is required")
	}
	if c.Pipeline.RunsDir == "" {
		return fmt.Errorf("pipeline.runs_dir is required")
	}
	if len(c.Pipeline.Launcher) == 0 || strings.TrimSpace(c.Pipeline.Launcher[0]) == "" {
		return fmt.Errorf("pipeline.launcher must name a program")
	}
	if c.Pipeline.DefaultMinSamples < 1 || c.Pipeline.DefaultMinSamples > MaxMinSamples {
		return fmt.Errorf("pipeline.default_min_samples must be between 1 and %d (got %d)", MaxMinSamples, c.Pipeline.DefaultMinSamples)
	}
	if c.Pipeline.DefaultMaxReviewRows < 1 || c.Pipeline.DefaultMaxReviewRows > MaxReviewRows {
		return fmt.Errorf("pipeline.default_max_review_rows must be between 1 and %d (got %d)", MaxReviewRows, c.Pipeline.DefaultMaxReviewRows)
	}
	if c.Pipeline.KillGraceSeconds < 0 {
		return fmt.Errorf("pipeline.kill_grace_seconds must not be negative")
	}
	if c.Pipeline.FetchLimit < 1 {
		return fmt.Errorf("pipeline.fetch_limit must be at least 1")
	}

	if c.Session.SaveIntervalSeconds < 1 {
		return fmt.Errorf("session.save_interval_seconds must be at least 1")
	}
	if c.Session.StaleAfterHours < 1 {
		return fmt.Errorf("session.stale_after_hours must be at least 1")
	}

	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must not be negative")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// ParseLevel maps a logging.level name onto a slog level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", name)
}

// Resolve returns p anchored at repo_root when it is relative
func (p PipelineConfig) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.RepoRoot, path)
}

// RunsPath returns the directory holding every run directory
func (p PipelineConfig) RunsPath() string {
	return p.Resolve(p.RunsDir)
}

// KillGrace returns the SIGTERM to SIGKILL escalation delay
func (p PipelineConfig) KillGrace() time.Duration {
	return time.Duration(p.KillGraceSeconds) * time.Second
}

// SaveInterval returns the session mirror write cadence
func (s SessionConfig) SaveInterval() time.Duration {
	return time.Duration(s.SaveIntervalSeconds) * time.Second
}

// StaleAfter returns the session staleness window
func (s SessionConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterHours) * time.Hour
}

// ShutdownTimeout returns the graceful shutdown budget
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}
