package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rikkisnah/stc/pkg/models"
)

const CheckpointFilename = "phase-meta.json"

// ErrNotFound is returned by Load when a run directory holds no checkpoint.
// It matches fs.ErrNotExist under errors.Is.
var ErrNotFound = fmt.Errorf("no checkpoint found: %w", fs.ErrNotExist)

// writeMu serializes disk writes within the process. Each run writes its
// checkpoint once, so contention only happens across runs.
var writeMu sync.Mutex

// Path returns the checkpoint location inside a run directory
func Path(outputDir string) string {
	return filepath.Join(outputDir, CheckpointFilename)
}

// Save writes meta into outputDir. The file is written whole to a temp file
// and renamed, so a reader never observes a partial checkpoint.
func Save(outputDir string, meta *models.PhaseMeta, logger *slog.Logger) error {
	if err := Validate(meta); err != nil {
		return fmt.Errorf("refusing to save checkpoint: %w", err)
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Atomic write: write to temp file, then rename
	checkpointPath := Path(outputDir)
	tempPath := checkpointPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}

	if err := os.Rename(tempPath, checkpointPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	logger.Debug("Checkpoint saved", "path", checkpointPath, "normalize_date", meta.NormalizeDate)
	return nil
}

// Load reads the checkpoint of a run directory. Unknown fields are ignored.
func Load(outputDir string, logger *slog.Logger) (*models.PhaseMeta, error) {
	checkpointPath := Path(outputDir)

	data, err := os.ReadFile(checkpointPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNotFound, outputDir)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var meta models.PhaseMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	if err := Validate(&meta); err != nil {
		return nil, fmt.Errorf("invalid checkpoint %s: %w", checkpointPath, err)
	}

	logger.Info("Checkpoint loaded",
		"path", checkpointPath,
		"normalize_date", meta.NormalizeDate,
		"min_samples", meta.MinSamples,
		"max_review_rows", meta.MaxReviewRows)

	return &meta, nil
}

// Exists reports whether outputDir holds a checkpoint file
func Exists(outputDir string) bool {
	info, err := os.Stat(Path(outputDir))
	return err == nil && info.Mode().IsRegular()
}
