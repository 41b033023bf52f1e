package models

import "time"

// StepStatus is the client-visible state of one pipeline step
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// RunStatus is inferred from the artifacts present in a run directory
type RunStatus string

const (
	RunCompleted  RunStatus = "completed"
	RunPaused     RunStatus = "paused"
	RunFailed     RunStatus = "failed"
	RunInProgress RunStatus = "in-progress"
)

// Paths lists artifacts produced so far. Unset entries are omitted on the wire.
type Paths struct {
	TicketsCSV    string `json:"ticketsCsv,omitempty"`
	OutputDir     string `json:"outputDir,omitempty"`
	NormalizedDir string `json:"normalizedDir,omitempty"`
	LocalRules    string `json:"localRules,omitempty"`
	MLModel       string `json:"mlModel,omitempty"`
	MLReport      string `json:"mlReport,omitempty"`
}

// PartialResult carries the trainer metrics surfaced after phase 2
type PartialResult struct {
	TrainingSamples *int   `json:"trainingSamples,omitempty"`
	CVAccuracy      string `json:"cvAccuracy,omitempty"`
}

// Result is the payload of a done event
type Result struct {
	Message     string `json:"message,omitempty"`
	RulesAdded  *int   `json:"rulesAdded,omitempty"`
	TicketsCSV  string `json:"ticketsCsv,omitempty"`
	LocalRules  string `json:"localRules,omitempty"`
	MLModel     string `json:"mlModel,omitempty"`
	MLReport    string `json:"mlReport,omitempty"`
	TrainingLog string `json:"trainingLog,omitempty"`
	OutputDir   string `json:"outputDir,omitempty"`
}

// RunInfo summarizes one run directory for listings
type RunInfo struct {
	RunID       string     `json:"runId"`
	CreatedAt   time.Time  `json:"createdAt"`
	Status      RunStatus  `json:"status"`
	Phase       Phase      `json:"phase"`
	TicketCount int        `json:"ticketCount"`
	RulesCount  int        `json:"rulesCount"`
	OutputDir   string     `json:"outputDir"`
	Meta        *PhaseMeta `json:"phaseMeta,omitempty"`
}

// RunDetail extends RunInfo with the artifact listing of one run
type RunDetail struct {
	RunInfo
	Artifacts   Paths    `json:"artifacts"`
	TrainingLog string   `json:"trainingLog,omitempty"`
	LogExcerpt  string   `json:"logExcerpt,omitempty"`
	Files       []string `json:"files"`
}
