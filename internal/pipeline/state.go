package pipeline

import (
	"fmt"

	"github.com/rikkisnah/stc/pkg/models"
)

// State is a point in a run's lifecycle. Paused states end a response but
// not the run.
type State int

const (
	StatePhase1Running State = iota
	StatePhase1Paused
	StatePhase2Running
	StatePhase2Paused
	StatePhase3Running
	StateDone
	StateCanceled
	StateFailed
)

var stateNames = map[State]string{
	StatePhase1Running: "phase1-running",
	StatePhase1Paused:  "phase1-paused",
	StatePhase2Running: "phase2-running",
	StatePhase2Paused:  "phase2-paused",
	StatePhase3Running: "phase3-running",
	StateDone:          "done",
	StateCanceled:      "canceled",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateCanceled || s == StateFailed
}


var transitions = map[State][]State{
	StatePhase1Running: {StatePhase1Paused, StateCanceled, StateFailed},
	// Done directly from here is the run finished without ML
	StatePhase1Paused:  {StatePhase2Running, StateDone},
	StatePhase2Running: {StatePhase2Paused, StateCanceled, StateFailed},
	StatePhase2Paused:  {StatePhase3Running},
	StatePhase3Running: {StateDone, StateCanceled, StateFailed},
}

// Transition validates a state change
func Transition(from, to State) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}

// resumeState is the state a run must be in for a request to start
func resumeState(phase models.Phase) State {
	switch phase {
	case models.PhaseML:
		return StatePhase1Paused
	case models.PhaseProposal:
		return StatePhase2Paused
	}
	// Phase 1 has no prior state; it enters running directly
	return StatePhase1Running
}

// runningState is the state a phase executes in
func runningState(phase models.Phase) State {
	switch phase {
	case models.PhaseML:
		return StatePhase2Running
	case models.PhaseProposal:
		return StatePhase3Running
	}
	return StatePhase1Running
}
