package client

import (
	"context"

	"github.com/rikkisnah/stc/internal/csvdiff"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/runs"
	"github.com/rikkisnah/stc/pkg/models"
)

// Backend is everything the command line needs from a pipeline host.
// *Client talks to a server; *Local runs in process.
type Backend interface {
	Transport
	ListRuns(ctx context.Context) ([]models.RunInfo, error)
	InspectRun(ctx context.Context, runID string) (*models.RunDetail, error)
	DeleteRun(ctx context.Context, runID string) error
	RulesDiff(ctx context.Context, source, target string) (*csvdiff.Result, error)
}

var (
	_ Backend = (*Client)(nil)
	_ Backend = (*Local)(nil)
)

// Local serves a Backend in process, bypassing HTTP
type Local struct {
	controller *pipeline.Controller
	runs       *runs.Manager
	resolve    func(string) string
}

// NewLocal wraps a controller and run manager. resolve anchors relative
// rule file paths; nil leaves them as given.
func NewLocal(controller *pipeline.Controller, rm *runs.Manager, resolve func(string) string) *Local {
	if resolve == nil {
		resolve = func(p string) string { return p }
	}
	return &Local{controller: controller, runs: rm, resolve: resolve}
}

func (l *Local) Train(ctx context.Context, req pipeline.Request, emit events.Emitter) (events.Event, error) {
	return l.controller.Run(ctx, req, emit), nil
}

func (l *Local) ListRuns(ctx context.Context) ([]models.RunInfo, error) {
	return l.runs.List()
}

func (l *Local) InspectRun(ctx context.Context, runID string) (*models.RunDetail, error) {
	return l.runs.Inspect(runID)
}

func (l *Local) DeleteRun(ctx context.Context, runID string) error {
	return l.runs.Delete(runID)
}

func (l *Local) RulesDiff(ctx context.Context, source, target string) (*csvdiff.Result, error) {
	return csvdiff.DiffFiles(l.resolve(source), l.resolve(target))
}
