package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rikkisnah/stc/pkg/models"
)

func TestTransition(t *testing.T) {
	valid := [][2]State{
		{StatePhase1Running, StatePhase1Paused},
		{StatePhase1Paused, StatePhase2Running},
		{StatePhase1Paused, StateDone},
		{StatePhase2Running, StatePhase2Paused},
		{StatePhase2Paused, StatePhase3Running},
		{StatePhase3Running, StateDone},
		{StatePhase1Running, StateCanceled},
		{StatePhase2Running, StateFailed},
		{StatePhase3Running, StateCanceled},
	}
	for _, tr := range valid {
		assert.NoError(t, Transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]State{
		{StatePhase1Running, StateDone},
		{StatePhase1Paused, StateCanceled},
		{StatePhase2Paused, StateDone},
		{StateDone, StatePhase1Running},
		{StateCanceled, StatePhase2Running},
		{StateFailed, StatePhase1Running},
		{StatePhase1Running, StatePhase2Running},
	}
	for _, tr := range invalid {
		assert.Error(t, Transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestStatePredicates(t *testing.T) {
	for _, s := range []State{StateDone, StateCanceled, StateFailed} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StatePhase1Running, StatePhase2Running, StatePhase3Running} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.False(t, StatePhase1Paused.Terminal())
	assert.Equal(t, "phase2-paused", StatePhase2Paused.String())
}

func TestResumeAndRunningStates(t *testing.T) {
	assert.Equal(t, StatePhase1Running, resumeState(models.PhaseRules))
	assert.Equal(t, StatePhase1Paused, resumeState(models.PhaseML))
	assert.Equal(t, StatePhase2Paused, resumeState(models.PhaseProposal))

	for _, p := range []models.Phase{models.PhaseML, models.PhaseProposal} {
		assert.NoError(t, Transition(resumeState(p), runningState(p)))
	}
}
