package pipeline

import (
	"fmt"
	"strings"

	"github.com/rikkisnah/stc/pkg/models"
)

// InputMode selects how phase 1 acquires tickets
type InputMode string

const (
	InputJQL     InputMode = "jql"
	InputFiles   InputMode = "files"
	InputTickets InputMode = "tickets"
)

// ResolutionMode filters query results by resolution state
type ResolutionMode string

const (
	ResolutionAll        ResolutionMode = "all"
	ResolutionUnresolved ResolutionMode = "unresolved-only"
	ResolutionResolved   ResolutionMode = "resolved-only"
)

// flag returns the get_tickets.py switch for the mode
func (m ResolutionMode) flag() string {
	switch m {
	case ResolutionUnresolved:
		return "--unresolved-only"
	case ResolutionResolved:
		return "--include-resolved-only"
	}
	return "--include-unresolved"
}

// Request starts or resumes one phase of a run
type Request struct {
	Phase models.Phase `json:"phase,omitempty"`
	RunID string       `json:"runId,omitempty"`

	// Phase 1 ticket acquisition
	InputMode      InputMode      `json:"inputMode,omitempty"`
	JQL            string         `json:"jql,omitempty"`
	ResolutionMode ResolutionMode `json:"resolutionMode,omitempty"`
	TicketsFile    string         `json:"ticketsFile,omitempty"`
	TicketsText    string         `json:"ticketsText,omitempty"`

	// Phase 1 training parameters, recorded in the checkpoint
	TrainingData  string `json:"trainingData,omitempty"`
	MinSamples    int    `json:"minSamples,omitempty"`
	MaxReviewRows int    `json:"maxReviewRows,omitempty"`

	// Finish ends a run paused after phase 1 without running the ML phases
	Finish bool `json:"finish,omitempty"`
}

// ValidationError rejects a request before anything is spawned
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// normalize fills defaults and checks the fields that need no filesystem access
func (r *Request) normalize() error {
	if r.Phase == 0 {
		r.Phase = models.PhaseRules
	}
	if !r.Phase.Valid() {
		return invalid("phase", "phase must be 1, 2 or 3 (got %d).", r.Phase)
	}
	r.RunID = strings.TrimSpace(r.RunID)

	if r.Finish && r.Phase != models.PhaseML {
		return invalid("finish", "finish is only valid with phase 2.")
	}

	if r.Phase != models.PhaseRules {
		if r.RunID == "" {
			return invalid("runId", "runId is required for phases 2 and 3.")
		}
		return nil
	}

	if r.InputMode == "" {
		r.InputMode = InputJQL
	}
	switch r.InputMode {
	case InputJQL:
		r.JQL = strings.TrimSpace(r.JQL)
		if r.JQL == "" {
			return invalid("jql", "JQL is required.")
		}
	case InputFiles:
		r.TicketsFile = strings.TrimSpace(r.TicketsFile)
		if r.TicketsFile == "" {
			return invalid("ticketsFile", "Ticket list file path is required.")
		}
	case InputTickets:
	default:
		return invalid("inputMode", "inputMode must be one of jql, files, tickets (got %q).", r.InputMode)
	}

	if r.ResolutionMode == "" {
		r.ResolutionMode = ResolutionAll
	}
	switch r.ResolutionMode {
	case ResolutionAll, ResolutionUnresolved, ResolutionResolved:
	default:
		return invalid("resolutionMode", "resolutionMode must be one of all, unresolved-only, resolved-only (got %q).", r.ResolutionMode)
	}

	// Zero means "use the configured default"
	if r.MinSamples < 0 {
		return invalid("minSamples", "minSamples must be a positive integer.")
	}
	if r.MaxReviewRows < 0 {
		return invalid("maxReviewRows", "maxReviewRows must be a positive integer.")
	}
	r.TrainingData = strings.TrimSpace(r.TrainingData)

	return nil
}
