package config

import (
	"fmt"
	"net/url"
	"unicode"
)

const (
	// MaxPathLength is the maximum allowed length for configured paths
	MaxPathLength = 4096

	// MaxLauncherArgs is the maximum number of launcher words
	MaxLauncherArgs = 16
)

// ValidateInputs performs additional validation on user-controllable fields.
// Paths and launcher words end up on external command lines, so control
// characters are rejected outright.
func (c *Config) ValidateInputs() error {
	paths := []struct {
		name  string
		value string
	}{
		{"pipeline.repo_root", c.Pipeline.RepoRoot},
		{"pipeline.scripts_dir", c.Pipeline.ScriptsDir},
		{"pipeline.runs_dir", c.Pipeline.RunsDir},
		{"pipeline.tickets_json_dir", c.Pipeline.TicketsJSONDir},
		{"pipeline.golden_rules", c.Pipeline.GoldenRules},
		{"pipeline.default_training_data", c.Pipeline.DefaultTrainingData},
		{"session.dir", c.Session.Dir},
	}
	for _, p := range paths {
		if err := validatePath(p.value, p.name); err != nil {
			return err
		}
	}

	if len(c.Pipeline.Launcher) > MaxLauncherArgs {
		return fmt.Errorf("pipeline.launcher has %d words, maximum is %d", len(c.Pipeline.Launcher), MaxLauncherArgs)
	}
	for i, word := range c.Pipeline.Launcher {
		if containsControlChars(word) {
			return fmt.Errorf("pipeline.launcher[%d] contains invalid control characters", i)
		}
	}

	if err := validateServerURL(c.Client.ServerURL); err != nil {
		return err
	}

	return nil
}

// validatePath checks a configured path for length and control characters
func validatePath(path, configKey string) error {
	if len(path) > MaxPathLength {
		return fmt.Errorf("%s exceeds maximum length of %d characters (got %d)",
			configKey, MaxPathLength, len(path))
	}

	if containsControlChars(path) {
		return fmt.Errorf("%s contains invalid control characters", configKey)
	}

	return nil
}

// validateServerURL checks that the client server URL is properly formatted
func validateServerURL(serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("client.server_url is invalid: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("client.server_url must use http or https scheme (got %s)", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("client.server_url must have a host")
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding tabs which are harmless in paths)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' {
			return true
		}
	}
	return false
}
