package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rikkisnah/stc/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline API",
		Long: `Serve the pipeline API:
  POST   /api/train          start or resume a phase (NDJSON progress stream)
  GET    /api/runs           list runs
  GET    /api/runs/{id}      inspect a run
  DELETE /api/runs/{id}      delete a run
  GET    /api/rules/diff     diff two rule sets
  GET    /metrics            Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			ctrl, rm := a.controller()
			srv := server.New(a.cfg, ctrl, rm, a.metrics, a.logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.logger.Info("stc server starting",
				"version", Version,
				"config", configPath,
				"repo_root", a.cfg.Pipeline.RepoRoot,
				"runs_dir", rm.Root())
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
