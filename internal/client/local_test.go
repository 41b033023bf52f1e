package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rikkisnah/stc/internal/csvdiff"
	"github.com/rikkisnah/stc/internal/runs"
)

func TestLocalInventoryAndDiff(t *testing.T) {
	root := t.TempDir()
	rm := runs.NewManager(filepath.Join(root, "runs"), testLogger())
	l := NewLocal(nil, rm, func(p string) string { return filepath.Join(root, p) })
	ctx := context.Background()

	infos, err := l.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	run, err := rm.Create()
	require.NoError(t, err)

	infos, err = l.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, run.ID, infos[0].RunID)

	detail, err := l.InspectRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Dir, detail.OutputDir)

	require.NoError(t, l.DeleteRun(ctx, run.ID))
	_, err = l.InspectRun(ctx, run.ID)
	assert.ErrorIs(t, err, runs.ErrRunNotFound)
	assert.True(t, IsNotFound(err))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.csv"), []byte("RuleID\nR1\nR2\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.csv"), []byte("RuleID\nR1\n"), 0644))
	res, err := l.RulesDiff(ctx, "a.csv", "b.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(csvdiff.StatusAdded))
}
