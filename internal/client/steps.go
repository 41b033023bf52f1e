package client

import (
	"strings"

	"github.com/rikkisnah/stc/internal/session"
	"github.com/rikkisnah/stc/pkg/models"
)

// Step is one entry of the client-side pipeline view. Match is a substring
// of the commands that belong to the step; audits have none.
type Step struct {
	Name  string
	Match string
}

// Steps is the full training pipeline as the client shows it
var Steps = []Step{
	{Name: "get_tickets.py", Match: "get_tickets.py"},
	{Name: "normalize_tickets.py", Match: "normalize_tickets.py"},
	{Name: "init local rules", Match: "cp "},
	{Name: "rule_engine_categorize.py (initial)", Match: "rule_engine_categorize.py"},
	{Name: "Human audit #1"},
	{Name: "ml_train.py", Match: "ml_train.py"},
	{Name: "rule_engine_categorize.py (ML)", Match: "rule_engine_categorize.py"},
	{Name: "Human audit #2"},
	{Name: "run_training.py", Match: "run_training.py"},
	{Name: "rule_engine_categorize.py (final)", Match: "rule_engine_categorize.py"},
}

// AuditIndex returns the step index of the human audit that follows phase.
// Phase 3 has no audit and yields -1.
func AuditIndex(phase models.Phase) int {
	switch phase {
	case models.PhaseRules:
		return 4
	case models.PhaseML:
		return 7
	}
	return -1
}

func (s Step) matches(command string) bool {
	return s.Match != "" && strings.Contains(command, s.Match)
}

// ContinuePhase returns the phase a continue call should request for a
// restored view. A view paused at an audit continues with the next phase;
// a view interrupted while running phase 2 or 3 reruns it. Views without a
// run id, finished runs and runs abandoned at an audit cannot be continued.
func ContinuePhase(s *session.State) (models.Phase, bool) {
	if s == nil || s.TrainRunID == "" {
		return 0, false
	}
	if idx := AuditIndex(s.TrainPhase); idx >= 0 && idx < len(s.PipelineStatus) {
		switch s.PipelineStatus[idx] {
		case models.StepRunning:
			return s.TrainPhase + 1, true
		case models.StepFailed:
			return 0, false
		}
	}
	if s.TrainPhase == models.PhaseML || s.TrainPhase == models.PhaseProposal {
		for _, st := range s.PipelineStatus {
			if st != models.StepDone {
				return s.TrainPhase, true
			}
		}
	}
	return 0, false
}
