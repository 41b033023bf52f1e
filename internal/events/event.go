package events

import (
	"encoding/json"

	"github.com/rikkisnah/stc/pkg/models"
)

// Type discriminates the Event union
type Type string

// Event types on the wire
const (
	TypeCommandStart Type = "command-start"
	TypeCommandEnd   Type = "command-end"
	TypeStdout       Type = "stdout"
	TypeStderr       Type = "stderr"
	TypePaused       Type = "paused"
	TypeDone         Type = "done"
	TypeCanceled     Type = "canceled"
	TypeError        Type = "error"
)

// ContentType is the media type of an event stream response
const ContentType = "application/x-ndjson; charset=utf-8"

// Event is the envelope for every line of a progress stream.
// Type determines which payload fields are populated.
type Event struct {
	Type Type `json:"type"`

	// Command is the argv string of the command a command-*, stdout, or
	// stderr event belongs to.
	Command string `json:"command,omitempty"`

	// Line is one line of output, without its newline.
	Line string `json:"line,omitempty"`

	// Phase and RunID identify the paused run.
	Phase models.Phase `json:"phase,omitempty"`
	RunID string       `json:"runId,omitempty"`

	Paths         *models.Paths         `json:"paths,omitempty"`
	PartialResult *models.PartialResult `json:"partialResult,omitempty"`
	Result        *models.Result        `json:"result,omitempty"`

	// Message explains a cancellation.
	Message string `json:"message,omitempty"`

	// Error is the human-readable failure of an error event.
	Error string `json:"error,omitempty"`
}

func CommandStart(command string) Event {
	return Event{Type: TypeCommandStart, Command: command}
}

func CommandEnd(command string) Event {
	return Event{Type: TypeCommandEnd, Command: command}
}

func Stdout(command, line string) Event {
	return Event{Type: TypeStdout, Command: command, Line: line}
}

func Stderr(command, line string) Event {
	return Event{Type: TypeStderr, Command: command, Line: line}
}

// Paused ends a response at a human audit point
func Paused(phase models.Phase, runID string, paths models.Paths, partial *models.PartialResult) Event {
	return Event{Type: TypePaused, Phase: phase, RunID: runID, Paths: &paths, PartialResult: partial}
}

func Done(runID string, result models.Result) Event {
	return Event{Type: TypeDone, RunID: runID, Result: &result}
}

func Canceled(message string) Event {
	return Event{Type: TypeCanceled, Message: message}
}

func Error(message string) Event {
	return Event{Type: TypeError, Error: message}
}

// IsTerminal reports whether e ends a response
func (e Event) IsTerminal() bool {
	switch e.Type {
	case TypePaused, TypeDone, TypeCanceled, TypeError:
		return true
	}
	return false
}

// Parse unmarshals a single JSON line into an Event.
// Unknown fields are silently ignored.
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.Type == "" {
		ev.Type = inferType(ev)
	}
	return ev, nil
}

// inferType recognizes a bare result object sent without a type tag
func inferType(ev Event) Type {
	switch {
	case ev.Error != "":
		return TypeError
	case ev.Result != nil:
		return TypeDone
	case ev.Phase != 0 && ev.RunID != "":
		return TypePaused
	case ev.Message != "":
		return TypeCanceled
	}
	return ""
}
