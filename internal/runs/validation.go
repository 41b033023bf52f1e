package runs

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidRunID is returned for run ids that are not a safe path segment
var ErrInvalidRunID = errors.New("invalid runId")

// Run id format: train-2026-02-16T04-08-00-167Z-3fa2c1
var runIDRegex = regexp.MustCompile(`^train-[0-9A-Za-z-]+$`)

// ValidateRunID validates a run id before it is joined onto the runs root.
// It checks for:
//   - Path traversal attempts (..)
//   - Path separators (a run id is a single directory name)
//   - Expected format (train-...)
//   - Path escaping the runs root
func ValidateRunID(root, runID string) error {
	if runID == "" {
		return fmt.Errorf("%w: runId cannot be empty", ErrInvalidRunID)
	}

	if strings.Contains(runID, "..") {
		return fmt.Errorf("%w: contains '..'", ErrInvalidRunID)
	}

	if strings.ContainsAny(runID, "/\\") || filepath.IsAbs(runID) {
		return fmt.Errorf("%w: must be a directory name without path separators", ErrInvalidRunID)
	}

	if !runIDRegex.MatchString(runID) {
		return fmt.Errorf("%w: expected 'train-<timestamp>', got %q", ErrInvalidRunID, runID)
	}

	// Additional check: ensure resolved path stays within the runs root
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve runs directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(root, runID))
	if err != nil {
		return fmt.Errorf("failed to resolve run path: %w", err)
	}
	// Separator suffix prevents "/runs" matching "/runs-other"
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("%w: path escapes runs directory", ErrInvalidRunID)
	}

	return nil
}
