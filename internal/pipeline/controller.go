package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rikkisnah/stc/internal/checkpoint"
	"github.com/rikkisnah/stc/internal/config"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/metrics"
	"github.com/rikkisnah/stc/internal/runner"
	"github.com/rikkisnah/stc/internal/runs"
	"github.com/rikkisnah/stc/pkg/models"
)

// Messages carried by terminal events
const (
	CanceledMessage = "Run canceled."
	DoneMessage     = "Training pipeline completed."
	FinishedMessage = "Training pipeline completed without ML phases."
)

// ErrModelNotFound rejects phase 3 for a run whose phase 2 never finished
var ErrModelNotFound = fmt.Errorf("no trained model found, run phase 2 first: %w", fs.ErrNotExist)

// CommandRunner executes one external command. *runner.Runner satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, c runner.Command, onLine runner.LineFunc) (*runner.Result, error)
}

// Controller sequences the phases of a run
type Controller struct {
	cfg      config.PipelineConfig
	logLevel slog.Level
	runner   CommandRunner
	runs     *runs.Manager
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// NewController creates a phase controller
func NewController(cfg *config.Config, r CommandRunner, rm *runs.Manager, mc *metrics.Collector, logger *slog.Logger) *Controller {
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return &Controller{
		cfg:      cfg.Pipeline,
		logLevel: level,
		runner:   r,
		runs:     rm,
		metrics:  mc,
		logger:   logger,
		now:      time.Now,
	}
}

// Invocation carries everything one phase invocation needs. It replaces
// shared mutable state: the run, its checkpoint, and the current state all
// travel with it.
type Invocation struct {
	Phase  models.Phase
	Finish bool

	// Run is set by Prepare for phases 2 and 3 and by Execute for phase 1
	Run  *runs.Run
	Meta *models.PhaseMeta

	req   Request
	keys  []string
	state State

	emit   events.Emitter
	logger *slog.Logger
}

// State returns the invocation's current lifecycle state
func (inv *Invocation) State() State {
	return inv.state
}

func (inv *Invocation) advance(to State) {
	if err := Transition(inv.state, to); err != nil {
		// Only reachable through a controller bug
		inv.logger.Error("Rejected state transition", "error", err)
		return
	}
	inv.logger.Debug("State transition", "from", inv.state, "to", to)
	inv.state = to
}

// Prepare validates a request and resolves the run and checkpoint it refers
// to. It spawns nothing and writes nothing. Errors are *ValidationError,
// runs.ErrInvalidRunID, runs.ErrRunNotFound, checkpoint.ErrNotFound or
// ErrModelNotFound.
func (c *Controller) Prepare(req Request) (*Invocation, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	inv := &Invocation{
		Phase:  req.Phase,
		Finish: req.Finish,
		req:    req,
		state:  resumeState(req.Phase),
		logger: c.logger,
	}

	if req.Phase == models.PhaseRules {
		switch req.InputMode {
		case InputFiles:
			data, err := os.ReadFile(c.cfg.Resolve(req.TicketsFile))
			if err != nil {
				return nil, invalid("ticketsFile", "Failed to read ticket list file: %v", err)
			}
			keys, err := ParseTicketKeys(string(data))
			if err != nil {
				return nil, err
			}
			inv.keys = keys
		case InputTickets:
			keys, err := ParseTicketKeys(req.TicketsText)
			if err != nil {
				return nil, err
			}
			inv.keys = keys
		}

		inv.Meta = &models.PhaseMeta{
			NormalizeDate: checkpoint.NormalizeDate(c.now()),
			TrainingData:  req.TrainingData,
			MinSamples:    req.MinSamples,
			MaxReviewRows: req.MaxReviewRows,
		}
		if inv.Meta.TrainingData == "" {
			inv.Meta.TrainingData = c.cfg.Resolve(c.cfg.DefaultTrainingData)
		}
		if inv.Meta.MinSamples == 0 {
			inv.Meta.MinSamples = c.cfg.DefaultMinSamples
		}
		if inv.Meta.MaxReviewRows == 0 {
			inv.Meta.MaxReviewRows = c.cfg.DefaultMaxReviewRows
		}
		return inv, nil
	}

	run, err := c.runs.Open(req.RunID)
	if err != nil {
		return nil, err
	}
	meta, err := checkpoint.Load(run.Dir, c.logger)
	if err != nil {
		return nil, err
	}
	// Phase 3 is only reachable once phase 2 has produced a classifier
	if req.Phase == models.PhaseProposal {
		if _, err := os.Stat(run.MLModel()); err != nil {
			return nil, fmt.Errorf("%w for run %s", ErrModelNotFound, run.ID)
		}
	}
	inv.Run = run
	inv.Meta = meta
	inv.logger = c.logger.With("run_id", run.ID)
	return inv, nil
}

// Run prepares and executes a request, reporting preparation failures as
// the single terminal error event
func (c *Controller) Run(ctx context.Context, req Request, emit events.Emitter) events.Event {
	inv, err := c.Prepare(req)
	if err != nil {
		ev := events.Error(err.Error())
		if emitErr := emit.Emit(ev); emitErr != nil {
			c.logger.Warn("Failed to emit event", "type", ev.Type, "error", emitErr)
		}
		return ev
	}
	return c.Execute(ctx, inv, emit)
}

// Execute runs one prepared phase. Exactly one terminal event is emitted and
// it is also returned.
func (c *Controller) Execute(ctx context.Context, inv *Invocation, emit events.Emitter) events.Event {
	inv.emit = events.Observe(emit, func(e events.Event) {
		c.metrics.RecordEvent(string(e.Type))
	})
	finishMetric := c.metrics.PhaseStarted(inv.Phase.String())

	terminal := c.execute(ctx, inv)

	if err := inv.emit.Emit(terminal); err != nil {
		inv.logger.Warn("Failed to emit terminal event", "type", terminal.Type, "error", err)
	}
	finishMetric(string(terminal.Type))
	inv.logger.Info("Phase invocation ended", "phase", inv.Phase, "state", inv.state, "outcome", terminal.Type)
	return terminal
}

func (c *Controller) execute(ctx context.Context, inv *Invocation) events.Event {
	if inv.Finish {
		return c.finish(inv)
	}

	if inv.Phase == models.PhaseRules {
		if err := ctx.Err(); err != nil {
			inv.state = StateCanceled
			return events.Canceled(CanceledMessage)
		}
		run, err := c.runs.Create()
		if err != nil {
			inv.state = StateFailed
			return events.Error(err.Error())
		}
		inv.Run = run
		inv.logger = c.logger.With("run_id", run.ID)
	} else {
		inv.advance(runningState(inv.Phase))
	}

	runLogger, logFile, err := runs.SetupLogger(inv.Run, c.logger, c.logLevel)
	if err != nil {
		inv.logger.Warn("Failed to open run log, continuing without it", "error", err)
	} else {
		inv.logger = runLogger
	}
	closeLog := func() {
		if logFile != nil {
			_ = logFile.Close()
			logFile = nil
		}
	}
	defer closeLog()

	inv.logger.Info("Phase started", "phase", inv.Phase, "output_dir", inv.Run.Dir)

	var terminal events.Event
	switch inv.Phase {
	case models.PhaseRules:
		terminal, err = c.runPhase1(ctx, inv)
	case models.PhaseML:
		terminal, err = c.runPhase2(ctx, inv)
	case models.PhaseProposal:
		terminal, err = c.runPhase3(ctx, inv)
	}
	if err == nil {
		return terminal
	}

	if errors.Is(err, runner.ErrCanceled) || ctx.Err() != nil {
		inv.advance(StateCanceled)
		inv.logger.Info("Phase canceled", "phase", inv.Phase)
		// Phase 1 owns nothing worth keeping yet. Later phases keep the
		// checkpoint so the run stays resumable.
		if inv.Phase == models.PhaseRules {
			closeLog()
			if rmErr := inv.Run.Remove(); rmErr != nil {
				c.logger.Warn("Cleanup after cancel failed", "run_id", inv.Run.ID, "error", rmErr)
			}
		}
		return events.Canceled(CanceledMessage)
	}

	inv.advance(StateFailed)
	inv.logger.Error("Phase failed", "phase", inv.Phase, "error", err)
	return events.Error(err.Error())
}

// finish ends a run paused after phase 1 without training a model
func (c *Controller) finish(inv *Invocation) events.Event {
	inv.advance(StateDone)
	inv.logger.Info("Run finished without ML phases", "phase", inv.Phase)
	run := inv.Run
	return events.Done(run.ID, models.Result{
		Message:    FinishedMessage,
		TicketsCSV: run.TicketsCSV(),
		LocalRules: run.LocalRules(),
		OutputDir:  run.Dir,
	})
}

// step is one unit of a phase: an external command or an in-process action
type step struct {
	name    string // metrics label
	command string // shown to clients
	run     func(ctx context.Context, onLine runner.LineFunc) error
}

// runSteps executes steps strictly in order. The first failure aborts the rest.
func (c *Controller) runSteps(ctx context.Context, inv *Invocation, steps []step) error {
	for _, s := range steps {
		if err := c.runStep(ctx, inv, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runStep(ctx context.Context, inv *Invocation, s step) error {
	if ctx.Err() != nil {
		return runner.ErrCanceled
	}

	c.emit(inv, events.CommandStart(s.command))
	started := time.Now()

	err := s.run(ctx, func(stream runner.Stream, line string) {
		if stream == runner.Stderr {
			c.emit(inv, events.Stderr(s.command, line))
		} else {
			c.emit(inv, events.Stdout(s.command, line))
		}
	})

	outcome := "success"
	switch {
	case errors.Is(err, runner.ErrCanceled):
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	}
	c.metrics.RecordCommand(s.name, outcome, time.Since(started))

	if err != nil {
		inv.logger.Warn("Step did not complete", "step", s.name, "outcome", outcome, "error", err)
		return err
	}

	c.emit(inv, events.CommandEnd(s.command))
	inv.logger.Info("Step finished", "step", s.name, "duration", time.Since(started))
	return nil
}

// emit forwards a progress event. A broken client connection surfaces as
// context cancellation, so write errors are only logged.
func (c *Controller) emit(inv *Invocation, e events.Event) {
	if err := inv.emit.Emit(e); err != nil {
		inv.logger.Debug("Failed to emit event", "type", e.Type, "error", err)
	}
}

// script builds a step that runs one pipeline script through the launcher.
// capture, when set, receives the command's stdout. post runs after a
// successful exit and its line is reported as output of the same command.
func (c *Controller) script(name string, args []string, capture *string, post func() (string, error)) step {
	launcher := c.cfg.Launcher
	cmdArgs := append(append([]string{}, launcher[1:]...), c.scriptPath(name))
	cmdArgs = append(cmdArgs, args...)
	cmd := runner.Command{
		Program: launcher[0],
		Args:    cmdArgs,
		Dir:     c.cfg.RepoRoot,
	}

	return step{
		name:    name,
		command: cmd.String(),
		run: func(ctx context.Context, onLine runner.LineFunc) error {
			res, err := c.runner.Run(ctx, cmd, onLine)
			if err != nil {
				return err
			}
			if capture != nil && res != nil {
				*capture = res.Stdout
			}
			if post != nil {
				line, err := post()
				if err != nil {
					return err
				}
				onLine(runner.Stdout, line)
			}
			return nil
		},
	}
}

// local builds an in-process step shown to clients as if it were a command
func local(name, command string, fn func() (string, error)) step {
	return step{
		name:    name,
		command: command,
		run: func(ctx context.Context, onLine runner.LineFunc) error {
			line, err := fn()
			if err != nil {
				return err
			}
			onLine(runner.Stdout, line)
			return nil
		},
	}
}

// scriptPath returns a script location relative to the working directory
func (c *Controller) scriptPath(name string) string {
	return filepath.Join(c.cfg.ScriptsDir, name)
}
