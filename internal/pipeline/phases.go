package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rikkisnah/stc/internal/checkpoint"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/runner"
	"github.com/rikkisnah/stc/internal/runs"
	"github.com/rikkisnah/stc/pkg/models"
)

// Pipeline scripts, relative to the scripts directory
const (
	scriptGetTickets = "get_tickets.py"
	scriptNormalize  = "normalize_tickets.py"
	scriptCategorize = "rule_engine_categorize.py"
	scriptTrain      = "ml_train.py"
	scriptProposals  = "run_training.py"
)

// runPhase1 acquires tickets, normalizes them, seeds the working rules,
// categorizes with rules only, then writes the checkpoint and pauses.
func (c *Controller) runPhase1(ctx context.Context, inv *Invocation) (events.Event, error) {
	run, meta, req := inv.Run, inv.Meta, inv.req
	normalizedDir := checkpoint.NormalizedDir(run.Dir, meta)

	if err := os.MkdirAll(run.IngestDir(), 0755); err != nil {
		return events.Event{}, fmt.Errorf("failed to create ingest directory: %w", err)
	}

	var steps []step
	if req.InputMode == InputJQL {
		if err := os.WriteFile(run.JQLFile(), []byte(req.JQL), 0644); err != nil {
			return events.Event{}, fmt.Errorf("failed to write query file: %w", err)
		}
		steps = append(steps, c.script(scriptGetTickets, []string{
			"-a", "--jql-file", run.JQLFile(), "-y",
			req.ResolutionMode.flag(),
			"--number-of-tickets", strconv.Itoa(c.cfg.FetchLimit),
			"--output-file", filepath.Join(run.IngestDir(), runs.LimitedTickets),
		}, nil, nil))
	} else {
		for _, key := range inv.keys {
			steps = append(steps, c.script(scriptGetTickets, []string{"-t", key}, nil, c.copyTicket(run, key)))
		}
	}

	golden := c.cfg.Resolve(c.cfg.GoldenRules)
	steps = append(steps,
		c.script(scriptNormalize, []string{
			"--input-dir", run.IngestDir(),
			"--output-dir", run.NormalizedRoot(),
			"--date", meta.NormalizeDate,
			"-y",
		}, nil, nil),
		local("init-local-rules", "cp "+golden+" "+run.LocalRules(), func() (string, error) {
			if err := copyFile(golden, run.LocalRules()); err != nil {
				return "", fmt.Errorf("failed to copy golden rules: %w", err)
			}
			return "Copied golden rules to " + run.LocalRules(), nil
		}),
		c.script(scriptCategorize, []string{
			"--tickets-dir", normalizedDir,
			"--rule-engine", run.LocalRules(),
			"--output-dir", run.Dir,
			"-y",
		}, nil, nil),
	)

	if err := c.runSteps(ctx, inv, steps); err != nil {
		return events.Event{}, err
	}

	if ctx.Err() != nil {
		return events.Event{}, runner.ErrCanceled
	}
	if err := checkpoint.Save(run.Dir, meta, inv.logger); err != nil {
		return events.Event{}, err
	}

	inv.advance(StatePhase1Paused)
	return events.Paused(models.PhaseRules, run.ID, models.Paths{
		TicketsCSV:    run.TicketsCSV(),
		OutputDir:     run.Dir,
		NormalizedDir: normalizedDir,
		LocalRules:    run.LocalRules(),
	}, nil), nil
}

// runPhase2 trains the classifier and re-categorizes with rules plus the
// model as a fallback, then pauses with the trainer's metrics.
func (c *Controller) runPhase2(ctx context.Context, inv *Invocation) (events.Event, error) {
	run, meta := inv.Run, inv.Meta
	normalizedDir := checkpoint.NormalizedDir(run.Dir, meta)

	if err := os.MkdirAll(run.MLModelDir(), 0755); err != nil {
		return events.Event{}, fmt.Errorf("failed to create model directory: %w", err)
	}

	var trainOut string
	steps := []step{
		c.script(scriptTrain, []string{
			"--training-data", meta.TrainingData,
			"--tickets-categorized", run.TicketsCSV(),
			"--tickets-dir", normalizedDir,
			"--output-model", run.MLModel(),
			"--output-category-map", run.CategoryMap(),
			"--output-report", run.MLReport(),
			"--min-samples", strconv.Itoa(meta.MinSamples),
			"-y",
		}, &trainOut, nil),
		c.categorizeWithModel(run, normalizedDir),
	}

	if err := c.runSteps(ctx, inv, steps); err != nil {
		return events.Event{}, err
	}

	partial := ParseTrainerReport(trainOut)
	if partial.TrainingSamples == nil && partial.CVAccuracy == "" {
		inv.logger.Debug("Trainer output carried no recognizable metrics")
	}

	inv.advance(StatePhase2Paused)
	return events.Paused(models.PhaseML, run.ID, models.Paths{
		TicketsCSV: run.TicketsCSV(),
		OutputDir:  run.Dir,
		LocalRules: run.LocalRules(),
		MLModel:    run.MLModel(),
		MLReport:   run.MLReport(),
	}, &partial), nil
}

// runPhase3 appends model-driven rule proposals to the working rules and
// categorizes a final time.
func (c *Controller) runPhase3(ctx context.Context, inv *Invocation) (events.Event, error) {
	run, meta := inv.Run, inv.Meta
	normalizedDir := checkpoint.NormalizedDir(run.Dir, meta)

	var proposalOut string
	steps := []step{
		c.script(scriptProposals, []string{
			"--tickets-categorized", run.TicketsCSV(),
			"--rules-engine-file", run.LocalRules(),
			"--output-rule-engine", run.LocalRules(),
			"--engine", "ml",
			"--ml-model", run.MLModel(),
			"--ml-category-map", run.CategoryMap(),
			"--max-review-rows", strconv.Itoa(meta.MaxReviewRows),
			"--log-file", run.TrainingLog(),
			"-y",
		}, &proposalOut, nil),
		c.categorizeWithModel(run, normalizedDir),
	}

	if err := c.runSteps(ctx, inv, steps); err != nil {
		return events.Event{}, err
	}

	inv.advance(StateDone)
	return events.Done(run.ID, models.Result{
		Message:     DoneMessage,
		RulesAdded:  ParseRulesAdded(proposalOut),
		TicketsCSV:  run.TicketsCSV(),
		LocalRules:  run.LocalRules(),
		MLModel:     run.MLModel(),
		MLReport:    run.MLReport(),
		TrainingLog: run.TrainingLog(),
		OutputDir:   run.Dir,
	}), nil
}

func (c *Controller) categorizeWithModel(run *runs.Run, normalizedDir string) step {
	return c.script(scriptCategorize, []string{
		"--tickets-dir", normalizedDir,
		"--rule-engine", run.LocalRules(),
		"--ml-model", run.MLModel(),
		"--ml-category-map", run.CategoryMap(),
		"--output-dir", run.Dir,
		"-y",
	}, nil, nil)
}

// copyTicket moves a fetched ticket from the shared download directory into
// the run's ingest directory
func (c *Controller) copyTicket(run *runs.Run, key string) func() (string, error) {
	return func() (string, error) {
		src := filepath.Join(c.cfg.Resolve(c.cfg.TicketsJSONDir), key+".json")
		dst := filepath.Join(run.IngestDir(), key+".json")
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("failed to copy %s.json into ingest: %w", key, err)
		}
		return fmt.Sprintf("Copied %s.json to %s", key, run.IngestDir()), nil
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
