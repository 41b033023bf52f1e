package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rikkisnah/stc/internal/client"
	"github.com/rikkisnah/stc/internal/config"
	"github.com/rikkisnah/stc/internal/metrics"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/runner"
	"github.com/rikkisnah/stc/internal/runs"
	"github.com/rikkisnah/stc/internal/session"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	serverURL  string
	local      bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stc",
		Short: "stc - Supervised ticket classifier training pipeline",
		Long: `stc drives the ticket classifier training pipeline: it fetches and
normalizes tickets, categorizes them with the rule engine, pauses for human
audits, trains the ML fallback model and proposes new rules.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "stc.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Pipeline server URL (overrides client.server_url)")
	rootCmd.PersistentFlags().BoolVar(&local, "local", false, "Run against the local repository instead of a server")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd(), newContinueCmd(), newFinishCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newRulesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command builds from the configuration
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
}

func loadApp() (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
		cfg.Logging.Level = "debug"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger, metrics: metrics.NewCollector(logger)}, nil
}

// controller wires the in-process pipeline stack
func (a *app) controller() (*pipeline.Controller, *runs.Manager) {
	rm := runs.NewManager(a.cfg.Pipeline.RunsPath(), a.logger)
	r := runner.New(a.cfg.Pipeline.KillGrace(), a.logger)
	return pipeline.NewController(a.cfg, r, rm, a.metrics, a.logger), rm
}

// backend picks the in-process pipeline or a server
func (a *app) backend(buffered bool) client.Backend {
	if local {
		ctrl, rm := a.controller()
		return client.NewLocal(ctrl, rm, a.cfg.Pipeline.Resolve)
	}
	url := serverURL
	if url == "" {
		url = a.cfg.Client.ServerURL
	}
	return client.NewClient(url, a.logger,
		client.WithBuffered(buffered),
		client.WithRetries(a.cfg.Client.MaxRetries, client.DefaultBaseRetryDelay))
}

func (a *app) sessionStore() *session.FileStore {
	return session.NewFileStore(a.cfg.Session.Dir, a.logger)
}
