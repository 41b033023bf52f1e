package models

import "strconv"

// Phase identifies one of the three ordered pipeline stages
type Phase int

const (
	PhaseRules    Phase = 1 // rule-only categorization
	PhaseML       Phase = 2 // model training and ML-assisted categorization
	PhaseProposal Phase = 3 // rule proposal generation and final categorization
)

func (p Phase) String() string {
	return strconv.Itoa(int(p))
}

// Valid reports whether p names a known phase
func (p Phase) Valid() bool {
	return p >= PhaseRules && p <= PhaseProposal
}

// PhaseMeta is the checkpoint written at the end of phase 1.
// It holds everything phases 2 and 3 need without re-deriving phase-1 inputs.
type PhaseMeta struct {
	NormalizeDate string `json:"normalizeDate"` // Partition key of the normalized tickets (YYYY-MM-DD)
	TrainingData  string `json:"trainingData"`  // Labeled training data CSV
	MinSamples    int    `json:"minSamples"`    // Minimum samples per category for the trainer
	MaxReviewRows int    `json:"maxReviewRows"` // Upper bound on rule proposals per review
}
