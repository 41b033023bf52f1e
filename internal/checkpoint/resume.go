package checkpoint

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rikkisnah/stc/pkg/models"
)

// DateLayout is the layout of PhaseMeta.NormalizeDate
const DateLayout = "2006-01-02"

// NormalizedDirName is the run subdirectory holding the per-day partitions
const NormalizedDirName = "normalized"

// Validate verifies a checkpoint carries everything a later phase needs
func Validate(meta *models.PhaseMeta) error {
	if meta == nil {
		return fmt.Errorf("checkpoint is empty")
	}
	if _, err := time.Parse(DateLayout, meta.NormalizeDate); err != nil {
		return fmt.Errorf("normalizeDate must be YYYY-MM-DD (got %q)", meta.NormalizeDate)
	}
	if meta.TrainingData == "" {
		return fmt.Errorf("trainingData is required")
	}
	if meta.MinSamples < 1 {
		return fmt.Errorf("minSamples must be positive (got %d)", meta.MinSamples)
	}
	if meta.MaxReviewRows < 1 {
		return fmt.Errorf("maxReviewRows must be positive (got %d)", meta.MaxReviewRows)
	}
	return nil
}

// NormalizeDate returns the partition key recorded for a run started at t
func NormalizeDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// NormalizedDir returns the per-day partition holding normalized tickets
func NormalizedDir(outputDir string, meta *models.PhaseMeta) string {
	return filepath.Join(outputDir, NormalizedDirName, meta.NormalizeDate)
}
