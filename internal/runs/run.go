package runs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rikkisnah/stc/internal/checkpoint"
)

// Artifact names inside a run directory
const (
	IngestDirName     = "ingest"
	NormalizedDirName = checkpoint.NormalizedDirName
	LocalRulesName    = "rule-engine.local.csv"
	TicketsCSVName    = "tickets-categorized.csv"
	MLModelDirName    = "ml-model"
	ClassifierName    = "classifier.joblib"
	CategoryMapName   = "category_map.json"
	TrainingReport    = "training_report.txt"
	TrainingLogName   = "run_training_ml.log"
	PipelineLogName   = "pipeline.log"
	LimitedTickets    = "limited-tickets.json"
)

// RunIDPrefix starts every run directory name
const RunIDPrefix = "train-"

// ErrRunNotFound is returned when a run directory does not exist
var ErrRunNotFound = errors.New("run directory not found")

// Run is one run directory under the runs root
type Run struct {
	ID   string
	Dir  string
	root string
}

// Manager owns the runs root: it mints run ids and opens run directories
type Manager struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager rooted at root. The directory is created lazily.
func NewManager(root string, logger *slog.Logger) *Manager {
	return &Manager{
		root:   root,
		logger: logger,
		now:    time.Now,
	}
}

// Root returns the directory that holds every run
func (m *Manager) Root() string {
	return m.root
}

// NewRunID mints a time-derived run id such as
// train-2026-02-16T04-08-00-167Z-3fa2c1. The suffix keeps ids unique when two
// runs start in the same millisecond.
func (m *Manager) NewRunID() string {
	stamp := m.now().UTC().Format("2006-01-02T15-04-05.000Z")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return RunIDPrefix + stamp + "-" + suffix
}

// Create mints a run id and creates its directory
func (m *Manager) Create() (*Run, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	id := m.NewRunID()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	m.logger.Info("Created new run directory", "run_id", id, "path", dir)
	return &Run{ID: id, Dir: dir, root: m.root}, nil
}

// Open resolves an existing run directory
func (m *Manager) Open(runID string) (*Run, error) {
	if err := ValidateRunID(m.root, runID); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.root, runID)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to stat run directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	return &Run{ID: runID, Dir: dir, root: m.root}, nil
}

// IngestDir holds raw ticket JSON for normalization
func (r *Run) IngestDir() string {
	return filepath.Join(r.Dir, IngestDirName)
}

// NormalizedRoot is the parent of the per-day normalized partitions
func (r *Run) NormalizedRoot() string {
	return filepath.Join(r.Dir, NormalizedDirName)
}


func (r *Run) LocalRules() string {
	return filepath.Join(r.Dir, LocalRulesName)
}

func (r *Run) TicketsCSV() string {
	return filepath.Join(r.Dir, TicketsCSVName)
}

func (r *Run) MLModelDir() string {
	return filepath.Join(r.Dir, MLModelDirName)
}

func (r *Run) MLModel() string {
	return filepath.Join(r.Dir, MLModelDirName, ClassifierName)
}

func (r *Run) CategoryMap() string {
	return filepath.Join(r.Dir, MLModelDirName, CategoryMapName)
}

func (r *Run) MLReport() string {
	return filepath.Join(r.Dir, MLModelDirName, TrainingReport)
}

func (r *Run) TrainingLog() string {
	return filepath.Join(r.Dir, TrainingLogName)
}

// LogPath returns the per-run structured log file
func (r *Run) LogPath() string {
	return filepath.Join(r.Dir, PipelineLogName)
}

// JQLFile is the scratch query file. It lives beside, not inside, the run directory.
func (r *Run) JQLFile() string {
	return filepath.Join(r.root, "jql-"+r.ID+".txt")
}

// Remove deletes the run directory and its scratch query file
func (r *Run) Remove() error {
	var errs []error
	if err := os.RemoveAll(r.Dir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove run directory: %w", err))
	}
	if err := os.Remove(r.JQLFile()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove query file: %w", err))
	}
	return errors.Join(errs...)
}
