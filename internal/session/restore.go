package session

import (
	"fmt"
	"time"

	"github.com/rikkisnah/stc/pkg/models"
)

// Offer is a snapshot a client may restore or dismiss
type Offer struct {
	State *State
	Stale bool
}

// Describe renders the prompt shown for an offer
func (o *Offer) Describe() string {
	msg := fmt.Sprintf("An interrupted training session was found (run: %s, phase %s).", o.State.TrainRunID, o.State.TrainPhase)
	if o.Stale {
		msg += " The snapshot is older than the staleness window."
	}
	return msg
}

// Check loads the slot and returns an offer when it holds an active or
// recently active run. A snapshot with neither a run id nor a running flag
// yields nil.
func Check(store Store, now time.Time, window time.Duration) *Offer {
	s := store.Load()
	if !s.Active() {
		return nil
	}
	return &Offer{State: s, Stale: IsStale(s, now, window)}
}

// Restore returns the view to repaint from an offer. The restored view is
// never running: it does not contact the server, and continuing the run takes
// an explicit continue call with the returned run id and phase.
func Restore(o *Offer) *State {
	out := *o.State
	out.IsRunning = false
	out.PipelineStatus = append([]models.StepStatus(nil), o.State.PipelineStatus...)
	return &out
}

// Dismiss discards the snapshot
func Dismiss(store Store) error {
	return store.Clear()
}
