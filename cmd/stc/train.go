package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rikkisnah/stc/internal/client"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/session"
	"github.com/rikkisnah/stc/pkg/models"
)

// errCanceled marks a run the user interrupted. The message is already printed.
var errCanceled = errors.New("run canceled")

type runFlags struct {
	jql           string
	ticketsFile   string
	tickets       string
	resolution    string
	trainingData  string
	minSamples    int
	maxReviewRows int
}

// request builds the phase 1 request. The input mode follows whichever
// ticket source was given; the server validates the rest.
func (f *runFlags) request() pipeline.Request {
	req := pipeline.Request{
		Phase:          models.PhaseRules,
		InputMode:      pipeline.InputJQL,
		JQL:            f.jql,
		ResolutionMode: pipeline.ResolutionMode(f.resolution),
		TrainingData:   f.trainingData,
		MinSamples:     f.minSamples,
		MaxReviewRows:  f.maxReviewRows,
	}
	switch {
	case f.ticketsFile != "":
		req.InputMode = pipeline.InputFiles
		req.TicketsFile = f.ticketsFile
	case f.tickets != "":
		req.InputMode = pipeline.InputTickets
		req.TicketsText = f.tickets
	}
	return req
}

var (
	buffered bool
	quiet    bool
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&buffered, "buffered", false, "Ask the server for a single JSON result instead of a stream")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print command output")
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a training run (phase 1)",
		Long: `Start a training run. Phase 1:
1. Fetch tickets (query, ticket list file or inline keys)
2. Normalize them into a per-day partition
3. Seed the run's working rules from the golden rule set
4. Categorize with rules only

The run then pauses for human audit #1. Use 'stc continue' or 'stc finish'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}

			store := a.sessionStore()
			if offer := session.Check(store, time.Now(), a.cfg.Session.StaleAfter()); offer != nil {
				fmt.Fprintf(os.Stderr, "%s Starting a new run replaces it. Use 'stc session restore' to view it first.\n", offer.Describe())
			}

			return drive(a, client.NewTracker(), f.request())
		},
	}
	cmd.Flags().StringVar(&f.jql, "jql", "", "JQL query selecting the tickets")
	cmd.Flags().StringVar(&f.ticketsFile, "tickets-file", "", "File with one ticket key per line")
	cmd.Flags().StringVar(&f.tickets, "tickets", "", "Comma or newline separated ticket keys")
	cmd.Flags().StringVar(&f.resolution, "resolution", string(pipeline.ResolutionAll), "Query resolution filter: all, unresolved-only, resolved-only")
	cmd.Flags().StringVar(&f.trainingData, "training-data", "", "Labeled training data CSV (default from config)")
	cmd.Flags().IntVar(&f.minSamples, "min-samples", 0, "Minimum samples per category (default from config)")
	cmd.Flags().IntVar(&f.maxReviewRows, "max-review-rows", 0, "Maximum rows proposed for review (default from config)")
	cmd.MarkFlagsMutuallyExclusive("jql", "tickets-file", "tickets")
	cmd.MarkFlagsOneRequired("jql", "tickets-file", "tickets")
	addOutputFlags(cmd)
	return cmd
}

func newContinueCmd() *cobra.Command {
	var phase int
	cmd := &cobra.Command{
		Use:   "continue <run-id>",
		Short: "Continue a paused run with its next phase",
		Long: `Continue a paused run. After audit #1 this trains the ML model and
re-categorizes (phase 2); after audit #2 it proposes new rules and runs the
final categorization (phase 3). The phase is taken from the local session
snapshot or inferred from the run's artifacts unless --phase is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			runID := args[0]

			tracker := client.NewTracker()
			snapshot := a.sessionStore().Load()
			if snapshot != nil && snapshot.TrainRunID == runID {
				tracker = client.FromState(snapshot)
			}

			next := models.Phase(phase)
			if next == 0 {
				next, err = nextPhase(a, snapshot, runID)
				if err != nil {
					return err
				}
			}
			if next == models.PhaseRules {
				return fmt.Errorf("phase 1 cannot be continued; start a new run")
			}

			return drive(a, tracker, pipeline.Request{Phase: next, RunID: runID})
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 0, "Phase to run (2 or 3)")
	addOutputFlags(cmd)
	return cmd
}

// nextPhase decides which phase continues runID
func nextPhase(a *app, snapshot *session.State, runID string) (models.Phase, error) {
	if snapshot != nil && snapshot.TrainRunID == runID {
		if p, ok := client.ContinuePhase(snapshot); ok {
			return p, nil
		}
	}

	detail, err := a.backend(false).InspectRun(context.Background(), runID)
	if err != nil {
		return 0, runError("inspect", runID, err)
	}
	switch detail.Status {
	case models.RunPaused:
		return detail.Phase + 1, nil
	case models.RunCompleted:
		return 0, fmt.Errorf("run %s is already completed", runID)
	}
	return 0, fmt.Errorf("run %s is %s; pass --phase to rerun a phase", runID, detail.Status)
}

func newFinishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finish <run-id>",
		Short: "Complete a run paused after phase 1 without the ML phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			tracker := client.NewTracker()
			if snapshot := a.sessionStore().Load(); snapshot != nil && snapshot.TrainRunID == args[0] {
				tracker = client.FromState(snapshot)
			}
			return drive(a, tracker, pipeline.Request{Phase: models.PhaseML, RunID: args[0], Finish: true})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

// drive runs one phase invocation while mirroring the tracked view into the
// session store. Interrupting the process cancels the phase.
func drive(a *app, tracker *client.Tracker, req pipeline.Request) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := a.sessionStore()
	mirror := session.NewMirror(store, tracker.Snapshot, a.cfg.Session.SaveInterval(), a.logger)
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	mirrorDone := make(chan struct{})
	go func() {
		mirror.Run(mirrorCtx)
		close(mirrorDone)
	}()

	tracker.Begin(req)
	view := newProgressView(tracker, os.Stderr, quiet)
	emit := events.EmitterFunc(func(ev events.Event) error {
		if err := tracker.Emit(ev); err != nil {
			return err
		}
		view.render(ev)
		return nil
	})

	terminal, err := a.backend(buffered).Train(ctx, req, emit)
	if err != nil {
		tracker.Interrupted(err)
	}
	view.finish()

	stopMirror()
	<-mirrorDone
	if tracker.Finished() {
		if clearErr := store.Clear(); clearErr != nil {
			a.logger.Warn("Failed to clear session", "error", clearErr)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, pipeline.CanceledMessage)
			return errCanceled
		}
		return fmt.Errorf("phase request failed: %w", err)
	}
	return report(terminal)
}

// report prints the outcome of a phase and what to do next
func report(terminal events.Event) error {
	switch terminal.Type {
	case events.TypePaused:
		fmt.Printf("Phase %s complete. Run: %s\n", terminal.Phase, terminal.RunID)
		if p := terminal.Paths; p != nil && p.TicketsCSV != "" {
			fmt.Printf("  Audit:           %s\n", p.TicketsCSV)
		}
		if p := terminal.Paths; p != nil && p.LocalRules != "" {
			fmt.Printf("  Working rules:   %s\n", p.LocalRules)
		}
		if pr := terminal.PartialResult; pr != nil {
			if pr.TrainingSamples != nil {
				fmt.Printf("  Training samples: %d\n", *pr.TrainingSamples)
			}
			if pr.CVAccuracy != "" {
				fmt.Printf("  CV accuracy:      %s\n", pr.CVAccuracy)
			}
		}
		fmt.Println()
		fmt.Printf("After the audit, run: stc continue %s\n", terminal.RunID)
		if terminal.Phase == models.PhaseRules {
			fmt.Printf("To stop without ML:  stc finish %s\n", terminal.RunID)
		}
		return nil

	case events.TypeDone:
		r := terminal.Result
		if r == nil {
			r = &models.Result{}
		}
		fmt.Println(r.Message)
		printField("Run", terminal.RunID)
		printField("Tickets", r.TicketsCSV)
		printField("Local rules", r.LocalRules)
		printField("ML model", r.MLModel)
		printField("ML report", r.MLReport)
		printField("Training log", r.TrainingLog)
		if r.RulesAdded != nil {
			printField("Rules added", fmt.Sprint(*r.RulesAdded))
		}
		return nil

	case events.TypeCanceled:
		fmt.Fprintln(os.Stderr, terminal.Message)
		return errCanceled

	case events.TypeError:
		return fmt.Errorf("%s", strings.TrimSpace(terminal.Error))
	}
	return fmt.Errorf("unexpected terminal event %q", terminal.Type)
}

func printField(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("  %-14s %s\n", label+":", value)
}
