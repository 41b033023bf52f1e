// Package session keeps a client-local mirror of the last observed run so an
// interrupted client can offer to restore its view. The mirror is advisory:
// only the run id and phase are ever sent back to the server.
package session

import (
	"time"
	"unicode/utf8"

	"github.com/rikkisnah/stc/pkg/models"
)

const (
	// SchemaVersion is the only snapshot version this reader accepts
	SchemaVersion = 1
	// StorageKey names the single snapshot slot
	StorageKey = "stc-session-state"
	// Workflow is the only workflow the mirror records
	Workflow = "train-stc"
	// DefaultStaleAfter is the staleness window used when none is configured
	DefaultStaleAfter = 24 * time.Hour
	// SnippetLimit caps lastCommandSnippet
	SnippetLimit = 200
)

// Result mirrors the fields of a done or paused payload shown to the user
type Result struct {
	Message         string `json:"message"`
	TrainingSamples *int   `json:"trainingSamples,omitempty"`
	CVAccuracy      string `json:"cvAccuracy,omitempty"`
	RulesAdded      *int   `json:"rulesAdded,omitempty"`
	TicketsCSV      string `json:"ticketsCsv"`
	LocalRules      string `json:"localRules"`
	MLModel         string `json:"mlModel"`
	MLReport        string `json:"mlReport"`
	TrainingLog     string `json:"trainingLog"`
	OutputDir       string `json:"outputDir"`
}

// State is one snapshot of client-visible run state
type State struct {
	SchemaVersion         int                 `json:"schemaVersion"`
	Workflow              string              `json:"workflow"`
	TrainRunID            string              `json:"trainRunId"`
	TrainPhase            models.Phase        `json:"trainPhase"`
	IsRunning             bool                `json:"isRunning"`
	StartedAt             string              `json:"startedAt"`
	ElapsedMs             int64               `json:"elapsedMs"`
	PipelineStatus        []models.StepStatus `json:"pipelineStatus"`
	ResultPaths           *models.Paths       `json:"resultPaths"`
	Result                *Result             `json:"trainStcResult"`
	Error                 string              `json:"error"`
	WasCanceled           bool                `json:"wasCanceled"`
	ExecutedCommandsCount int                 `json:"executedCommandsCount"`
	LastCommandSnippet    string              `json:"lastCommandSnippet"`
	SavedAt               int64               `json:"savedAt"` // Unix milliseconds
}

// Active reports whether the snapshot is worth offering for restore
func (s *State) Active() bool {
	return s != nil && (s.IsRunning || s.TrainRunID != "")
}

// SavedTime returns SavedAt as a time, or the zero time when unset
func (s *State) SavedTime() time.Time {
	if s.SavedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.SavedAt)
}

// IsStale reports whether s was never stamped or was saved more than window
// before now. A non-positive window falls back to DefaultStaleAfter.
func IsStale(s *State, now time.Time, window time.Duration) bool {
	if s == nil || s.SavedAt == 0 {
		return true
	}
	if window <= 0 {
		window = DefaultStaleAfter
	}
	return now.UnixMilli()-s.SavedAt > window.Milliseconds()
}

// Snippet truncates a command line to SnippetLimit bytes without splitting a rune
func Snippet(command string) string {
	if len(command) <= SnippetLimit {
		return command
	}
	cut := SnippetLimit
	for cut > 0 && !utf8.RuneStart(command[cut]) {
		cut--
	}
	return command[:cut]
}

