package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/session"
	"github.com/rikkisnah/stc/pkg/models"
)

const (
	// CanceledDuringAudit is recorded when the user abandons a paused run
	CanceledDuringAudit = "Training canceled during audit."
	// IncompleteMessage is recorded when a stream ends without a terminal event
	IncompleteMessage = "Connection closed before the run reported an outcome."
)

// Tracker folds progress events into a session.State. It implements
// events.Emitter so it can sit directly on a response stream.
type Tracker struct {
	mu       sync.Mutex
	state    session.State
	commands []string
	restored int // commands counted before FromState
	seen     map[string]bool
	started  time.Time
	finished bool
	now      func() time.Time
}

// NewTracker creates a tracker with an empty view
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]bool), now: time.Now}
}

// FromState resumes tracking from a restored view
func FromState(s *session.State) *Tracker {
	t := NewTracker()
	t.state = *s
	t.state.IsRunning = false
	t.state.PipelineStatus = append([]models.StepStatus(nil), s.PipelineStatus...)
	t.restored = s.ExecutedCommandsCount
	if started, err := time.Parse(time.RFC3339Nano, s.StartedAt); err == nil {
		t.started = started
	}
	return t
}

// Begin records the start of one phase invocation
func (t *Tracker) Begin(req pipeline.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()

	phase := req.Phase
	if phase == 0 {
		phase = models.PhaseRules
	}

	if phase == models.PhaseRules {
		t.state = session.State{PipelineStatus: pendingSteps()}
		t.commands = nil
		t.restored = 0
		t.seen = make(map[string]bool)
	} else {
		t.state.TrainRunID = req.RunID
		if len(t.state.PipelineStatus) != len(Steps) {
			t.state.PipelineStatus = resumedSteps(phase - 1)
		}
		// Continuing confirms the audit of the previous phase
		if idx := AuditIndex(phase - 1); idx >= 0 {
			t.state.PipelineStatus[idx] = models.StepDone
		}
	}

	t.started = t.now()
	t.finished = false
	t.state.TrainPhase = phase
	t.state.IsRunning = true
	t.state.StartedAt = t.started.UTC().Format(time.RFC3339Nano)
	t.state.ElapsedMs = 0
	t.state.Error = ""
	t.state.WasCanceled = false
}

// Emit applies one event
func (t *Tracker) Emit(ev events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case events.TypeCommandStart:
		t.commandStarted(ev.Command)
	case events.TypeCommandEnd:
		if idx := t.indexOf(models.StepRunning); idx >= 0 {
			t.state.PipelineStatus[idx] = models.StepDone
		}
	case events.TypePaused:
		t.state.TrainRunID = ev.RunID
		t.state.TrainPhase = ev.Phase
		if idx := AuditIndex(ev.Phase); idx >= 0 && idx < len(t.state.PipelineStatus) {
			t.state.PipelineStatus[idx] = models.StepRunning
		}
		if ev.Paths != nil {
			paths := *ev.Paths
			t.state.ResultPaths = &paths
		}
		if ev.PartialResult != nil {
			r := t.result()
			if ev.PartialResult.TrainingSamples != nil {
				r.TrainingSamples = ev.PartialResult.TrainingSamples
			}
			if ev.PartialResult.CVAccuracy != "" {
				r.CVAccuracy = ev.PartialResult.CVAccuracy
			}
		}
		t.stop(false)
	case events.TypeDone:
		for i := range t.state.PipelineStatus {
			t.state.PipelineStatus[i] = models.StepDone
		}
		if ev.Result != nil {
			mergeResult(t.result(), ev.Result)
			t.state.ResultPaths = &models.Paths{
				TicketsCSV: ev.Result.TicketsCSV,
				OutputDir:  ev.Result.OutputDir,
				LocalRules: ev.Result.LocalRules,
				MLModel:    ev.Result.MLModel,
				MLReport:   ev.Result.MLReport,
			}
		}
		t.finished = true
		t.stop(true)
	case events.TypeCanceled:
		msg := ev.Message
		if msg == "" {
			msg = pipeline.CanceledMessage
		}
		t.canceled(msg)
	case events.TypeError:
		t.failed(ev.Error)
	}
	return nil
}

// Interrupted records a stream that ended without a terminal event. A
// canceled context counts as a user cancel; anything else is a failure.
func (t *Tracker) Interrupted(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsRunning {
		return
	}
	if errors.Is(err, context.Canceled) {
		t.canceled(pipeline.CanceledMessage)
		return
	}
	msg := IncompleteMessage
	if err != nil && !errors.Is(err, events.ErrIncomplete) {
		msg = err.Error()
	}
	t.failed(msg)
}

// CancelAudit abandons a run paused at an audit. Nothing is sent to the server.
func (t *Tracker) CancelAudit() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := AuditIndex(t.state.TrainPhase); idx >= 0 && idx < len(t.state.PipelineStatus) {
		t.state.PipelineStatus[idx] = models.StepFailed
	}
	t.state.WasCanceled = true
	t.state.Error = CanceledDuringAudit
	t.state.Result = &session.Result{Message: CanceledDuringAudit}
}

// Finished reports whether the run reached done
func (t *Tracker) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Progress returns how many steps are done out of the total
func (t *Tracker) Progress() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.state.PipelineStatus {
		if st == models.StepDone {
			done++
		}
	}
	return done, len(Steps)
}

// State returns a copy of the current view
func (t *Tracker) State() session.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyState()
}

// Snapshot returns the view to mirror, or nil when there is nothing worth
// restoring: no run yet, or a run that finished.
func (t *Tracker) Snapshot() *session.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished || !t.state.Active() {
		return nil
	}
	s := t.copyState()
	return &s
}

func (t *Tracker) copyState() session.State {
	s := t.state
	s.PipelineStatus = append([]models.StepStatus(nil), t.state.PipelineStatus...)
	if s.IsRunning && !t.started.IsZero() {
		s.ElapsedMs = t.now().Sub(t.started).Milliseconds()
	}
	s.ExecutedCommandsCount = t.restored + len(t.commands)
	if n := len(t.commands); n > 0 {
		s.LastCommandSnippet = session.Snippet(t.commands[n-1])
	}
	return s
}

// commandStarted advances the step cursor. A command repeating the script
// of the most recent step keeps the cursor there.
func (t *Tracker) commandStarted(command string) {
	if !t.seen[command] {
		t.seen[command] = true
		t.commands = append(t.commands, command)
	}

	statuses := t.state.PipelineStatus
	next := t.indexOf(models.StepPending)
	if next == -1 {
		return
	}
	if prev := next - 1; prev >= 0 && Steps[prev].matches(command) && statuses[prev] != models.StepFailed {
		statuses[prev] = models.StepRunning
		return
	}
	for i := 0; i < next; i++ {
		if statuses[i] != models.StepDone {
			statuses[i] = models.StepDone
		}
	}
	statuses[next] = models.StepRunning
}

func (t *Tracker) canceled(msg string) {
	if idx := t.indexOf(models.StepRunning); idx >= 0 {
		t.state.PipelineStatus[idx] = models.StepFailed
	}
	t.state.WasCanceled = true
	t.state.Error = msg
	t.state.ResultPaths = nil
	t.state.Result = &session.Result{Message: msg}
	t.stop(true)
}

func (t *Tracker) failed(msg string) {
	if idx := t.indexOf(models.StepRunning); idx >= 0 {
		t.state.PipelineStatus[idx] = models.StepFailed
	}
	t.state.Error = msg
	t.state.Result = &session.Result{Message: "Run failed: " + msg}
	t.stop(true)
}

// stop ends the invocation. Elapsed time is frozen only when the run ended
// rather than paused.
func (t *Tracker) stop(ended bool) {
	if ended && !t.started.IsZero() {
		t.state.ElapsedMs = t.now().Sub(t.started).Milliseconds()
	}
	t.state.IsRunning = false
}

func (t *Tracker) result() *session.Result {
	if t.state.Result == nil {
		t.state.Result = &session.Result{}
	}
	return t.state.Result
}

func (t *Tracker) indexOf(status models.StepStatus) int {
	for i, st := range t.state.PipelineStatus {
		if st == status {
			return i
		}
	}
	return -1
}

func mergeResult(dst *session.Result, src *models.Result) {
	if src.Message != "" {
		dst.Message = src.Message
	}
	if src.RulesAdded != nil {
		dst.RulesAdded = src.RulesAdded
	}
	if src.TicketsCSV != "" {
		dst.TicketsCSV = src.TicketsCSV
	}
	if src.LocalRules != "" {
		dst.LocalRules = src.LocalRules
	}
	if src.MLModel != "" {
		dst.MLModel = src.MLModel
	}
	if src.MLReport != "" {
		dst.MLReport = src.MLReport
	}
	if src.TrainingLog != "" {
		dst.TrainingLog = src.TrainingLog
	}
	if src.OutputDir != "" {
		dst.OutputDir = src.OutputDir
	}
}

func pendingSteps() []models.StepStatus {
	out := make([]models.StepStatus, len(Steps))
	for i := range out {
		out[i] = models.StepPending
	}
	return out
}

// resumedSteps builds a view for a run continued without a restored
// snapshot: every step up to the audit of completed is done
func resumedSteps(completed models.Phase) []models.StepStatus {
	out := pendingSteps()
	for i := 0; i < AuditIndex(completed); i++ {
		out[i] = models.StepDone
	}
	return out
}
