package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rikkisnah/stc/internal/client"
	"github.com/rikkisnah/stc/internal/session"
	"github.com/rikkisnah/stc/pkg/models"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the locally saved training session",
		Long: `The client mirrors the progress of the current run into a local session
file so an interrupted run can be picked up again. These commands show,
restore or discard that snapshot.`,
	}
	cmd.AddCommand(newSessionShowCmd(), newSessionRestoreCmd(), newSessionCancelCmd(), newSessionDismissCmd())
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the raw session snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			s := a.sessionStore().Load()
			if s == nil {
				fmt.Println("No saved session.")
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}
}

func newSessionRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Show the interrupted run and how to continue it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			store := a.sessionStore()
			offer := session.Check(store, time.Now(), a.cfg.Session.StaleAfter())
			if offer == nil {
				fmt.Println("No interrupted session to restore.")
				return nil
			}
			if offer.Stale {
				fmt.Println(offer.Describe())
				fmt.Println("Discarding it.")
				return session.Dismiss(store)
			}

			s := session.Restore(offer)
			fmt.Println(offer.Describe())
			if saved := s.SavedTime(); !saved.IsZero() {
				fmt.Printf("Saved at %s\n", saved.Local().Format(time.DateTime))
			}
			fmt.Println()
			for i, step := range client.Steps {
				status := "pending"
				if i < len(s.PipelineStatus) {
					status = string(s.PipelineStatus[i])
				}
				fmt.Printf("  %-8s %s\n", status, step.Name)
			}
			if s.LastCommandSnippet != "" {
				fmt.Printf("\nLast command (%d run): %s\n", s.ExecutedCommandsCount, s.LastCommandSnippet)
			}
			if s.Error != "" {
				fmt.Printf("Error: %s\n", s.Error)
			}

			if phase, ok := client.ContinuePhase(s); ok {
				fmt.Printf("\nTo continue: stc continue %s --phase %d\n", s.TrainRunID, phase)
			} else {
				fmt.Printf("\nInspect it with: stc runs inspect %s\n", s.TrainRunID)
			}
			return nil
		},
	}
}

func newSessionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Abandon a run that is waiting at a human audit",
		Long: `Mark the audit the saved run is waiting at as failed. Nothing is sent to
the server and the run directory is kept; the run can still be continued
or deleted later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			store := a.sessionStore()
			s, err := cancelAudit(store)
			if err != nil {
				return err
			}
			fmt.Printf("%s (run: %s)\n", client.CanceledDuringAudit, s.TrainRunID)
			return nil
		},
	}
}

// cancelAudit marks the audit the saved run is paused at as failed and
// saves the result
func cancelAudit(store session.Store) (*session.State, error) {
	s := store.Load()
	if s == nil || s.TrainRunID == "" {
		return nil, fmt.Errorf("no saved session")
	}
	idx := client.AuditIndex(s.TrainPhase)
	if idx < 0 || idx >= len(s.PipelineStatus) || s.PipelineStatus[idx] != models.StepRunning {
		return nil, fmt.Errorf("run %s is not waiting at an audit", s.TrainRunID)
	}

	tracker := client.FromState(s)
	tracker.CancelAudit()
	out := tracker.Snapshot()
	if err := store.Save(out); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return out, nil
}

func newSessionDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss",
		Short: "Discard the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if err := session.Dismiss(a.sessionStore()); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			fmt.Println("Session cleared.")
			return nil
		},
	}
}
