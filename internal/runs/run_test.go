package runs

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "ui-runs"), quietLogger())
	m.now = func() time.Time { return time.Date(2026, 2, 16, 4, 8, 0, 167e6, time.UTC) }
	return m
}

func TestNewRunID(t *testing.T) {
	m := newTestManager(t)

	id := m.NewRunID()
	assert.True(t, strings.HasPrefix(id, "train-2026-02-16T04-08-00-167Z-"), id)
	assert.Len(t, id, len("train-2026-02-16T04-08-00-167Z-")+6)
	require.NoError(t, ValidateRunID(m.Root(), id))

	assert.NotEqual(t, id, m.NewRunID(), "ids minted in the same millisecond must differ")
}

func TestCreateAndOpen(t *testing.T) {
	m := newTestManager(t)

	run, err := m.Create()
	require.NoError(t, err)
	assert.DirExists(t, run.Dir)
	assert.Equal(t, filepath.Join(m.Root(), run.ID), run.Dir)

	opened, err := m.Open(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Dir, opened.Dir)
	assert.Equal(t, filepath.Join(m.Root(), "jql-"+run.ID+".txt"), opened.JQLFile())
	assert.Equal(t, filepath.Join(run.Dir, "normalized"), opened.NormalizedRoot())
	assert.Equal(t, filepath.Join(run.Dir, "ml-model", "classifier.joblib"), opened.MLModel())
}

func TestOpenMissing(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Open("train-2026-01-01T00-00-00-000Z")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestOpenInvalid(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Open("../etc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRunID))
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)

	run, err := m.Create()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(run.JQLFile(), []byte("project = HPC"), 0644))
	require.NoError(t, os.MkdirAll(run.IngestDir(), 0755))

	require.NoError(t, run.Remove())
	assert.NoDirExists(t, run.Dir)
	assert.NoFileExists(t, run.JQLFile())

	// Removing twice is not an error
	require.NoError(t, run.Remove())
}

func TestSetupLogger(t *testing.T) {
	m := newTestManager(t)
	run, err := m.Create()
	require.NoError(t, err)

	logger, f, err := SetupLogger(run, quietLogger(), slog.LevelInfo)
	require.NoError(t, err)
	logger.Info("Phase started", "phase", 1)
	logger.Debug("not recorded")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(run.LogPath())
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"msg":"Phase started"`)
	assert.Contains(t, text, `"run_id":"`+run.ID+`"`)
	assert.NotContains(t, text, "not recorded")
}
