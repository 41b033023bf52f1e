package runs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rikkisnah/stc/internal/checkpoint"
	"github.com/rikkisnah/stc/pkg/models"
)

// logExcerptLimit bounds the training log text returned by Inspect
const logExcerptLimit = 5000

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// List summarizes every run directory, newest first. A missing root yields an empty list.
func (m *Manager) List() ([]models.RunInfo, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.RunInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), RunIDPrefix) {
			ids = append(ids, e.Name())
		}
	}
	// Ids are time-prefixed, so lexical order is creation order
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	infos := make([]models.RunInfo, 0, len(ids))
	for _, id := range ids {
		run := &Run{ID: id, Dir: filepath.Join(m.root, id), root: m.root}
		info, _, err := summarize(run)
		if err != nil {
			m.logger.Warn("Skipping unreadable run directory", "run_id", id, "error", err)
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Inspect returns the summary, artifact paths, and file listing of one run
func (m *Manager) Inspect(runID string) (*models.RunDetail, error) {
	run, err := m.Open(runID)
	if err != nil {
		return nil, err
	}

	info, files, err := summarize(run)
	if err != nil {
		return nil, err
	}

	detail := &models.RunDetail{RunInfo: *info, Files: files}
	if fileExists(run.TicketsCSV()) {
		detail.Artifacts.TicketsCSV = run.TicketsCSV()
	}
	if fileExists(run.LocalRules()) {
		detail.Artifacts.LocalRules = run.LocalRules()
	}
	if fileExists(run.MLModel()) {
		detail.Artifacts.MLModel = run.MLModel()
	}
	if fileExists(run.MLReport()) {
		detail.Artifacts.MLReport = run.MLReport()
	}
	if fileExists(run.TrainingLog()) {
		detail.TrainingLog = run.TrainingLog()
		detail.LogExcerpt = readExcerpt(run.TrainingLog(), logExcerptLimit)
	}
	detail.Artifacts.OutputDir = run.Dir

	return detail, nil
}

// Delete removes a run directory and its scratch files
func (m *Manager) Delete(runID string) error {
	run, err := m.Open(runID)
	if err != nil {
		return err
	}
	if err := run.Remove(); err != nil {
		return err
	}
	m.logger.Info("Deleted run", "run_id", runID, "path", run.Dir)
	return nil
}

// summarize infers status and phase from the artifacts present in a run directory
func summarize(run *Run) (*models.RunInfo, []string, error) {
	stat, err := os.Stat(run.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat run directory: %w", err)
	}

	entries, err := os.ReadDir(run.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list run directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		files = append(files, e.Name())
		present[e.Name()] = true
	}

	hasMeta := checkpoint.Exists(run.Dir)
	hasTickets := present[TicketsCSVName]
	// ml-model/ exists from the start of phase 2; only the classifier shows it finished
	hasModel := fileExists(run.MLModel())
	hasTrainingLog := present[TrainingLogName]

	info := &models.RunInfo{
		RunID:     run.ID,
		CreatedAt: stat.ModTime().UTC(),
		Status:    models.RunInProgress,
		Phase:     models.PhaseRules,
		OutputDir: run.Dir,
	}

	if hasMeta {
		switch {
		case hasTrainingLog:
			info.Phase = models.PhaseProposal
		case hasModel:
			info.Phase = models.PhaseML
		}
		if meta, err := checkpoint.Load(run.Dir, discardLogger); err == nil {
			info.Meta = meta
		}
	}

	switch {
	case hasTrainingLog && hasTickets:
		info.Status = models.RunCompleted
	case hasMeta && hasTickets:
		info.Status = models.RunPaused
	case !hasTickets && len(files) <= 1:
		info.Status = models.RunFailed
	}

	if hasTickets {
		info.TicketCount = countDataRows(run.TicketsCSV())
	}
	if present[LocalRulesName] {
		info.RulesCount = countDataRows(run.LocalRules())
	}

	return info, files, nil
}

// countDataRows counts non-blank lines after the header. Unreadable files count as zero.
func countDataRows(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()

	lines := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			lines++
		}
	}
	if lines == 0 {
		return 0
	}
	return lines - 1
}

func readExcerpt(path string, limit int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return ""
	}
	return string(data)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
