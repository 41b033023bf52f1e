package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rikkisnah/stc/internal/client"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List, inspect and delete training runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsInspectCmd(), newRunsDeleteCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List training runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			infos, err := a.backend(false).ListRuns(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if len(infos) == 0 {
				fmt.Println("No training runs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCREATED\tSTATUS\tPHASE\tTICKETS\tRULES")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					info.RunID, info.CreatedAt.Local().Format(time.DateTime), info.Status,
					info.Phase, info.TicketCount, info.RulesCount)
			}
			return w.Flush()
		},
	}
}

func newRunsInspectCmd() *cobra.Command {
	var showLog bool
	cmd := &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "Show the artifacts and checkpoint of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			d, err := a.backend(false).InspectRun(cmd.Context(), args[0])
			if err != nil {
				return runError("inspect", args[0], err)
			}

			fmt.Printf("Run:     %s\n", d.RunID)
			fmt.Printf("Created: %s\n", d.CreatedAt.Local().Format(time.DateTime))
			fmt.Printf("Status:  %s (phase %d)\n", d.Status, d.Phase)
			fmt.Printf("Dir:     %s\n", d.OutputDir)
			fmt.Printf("Tickets: %d  Rules: %d\n", d.TicketCount, d.RulesCount)
			if m := d.Meta; m != nil {
				fmt.Printf("Checkpoint: normalized %s, training data %s, min samples %d, max review rows %d\n",
					m.NormalizeDate, m.TrainingData, m.MinSamples, m.MaxReviewRows)
			}
			fmt.Println()
			printField("Tickets", d.Artifacts.TicketsCSV)
			printField("Local rules", d.Artifacts.LocalRules)
			printField("ML model", d.Artifacts.MLModel)
			printField("ML report", d.Artifacts.MLReport)
			printField("Training log", d.TrainingLog)
			if len(d.Files) > 0 {
				fmt.Println("\nFiles:")
				for _, f := range d.Files {
					fmt.Printf("  %s\n", f)
				}
			}
			if showLog && d.LogExcerpt != "" {
				fmt.Println("\nTraining log (tail):")
				fmt.Println(d.LogExcerpt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showLog, "log", false, "Print the tail of the training log")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if err := a.backend(false).DeleteRun(cmd.Context(), args[0]); err != nil {
				return runError("delete", args[0], err)
			}

			store := a.sessionStore()
			if s := store.Load(); s != nil && s.TrainRunID == args[0] {
				if err := store.Clear(); err != nil {
					a.logger.Warn("Failed to clear session", "error", err)
				}
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

// runError words a failed run lookup for the terminal
func runError(action, runID string, err error) error {
	if client.IsNotFound(err) {
		return fmt.Errorf("run %s not found; see 'stc runs list'", runID)
	}
	return fmt.Errorf("failed to %s run: %w", action, err)
}
