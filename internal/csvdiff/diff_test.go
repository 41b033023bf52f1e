package csvdiff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statuses(r *Result) map[string]Status {
	out := make(map[string]Status, len(r.Rows))
	for _, row := range r.Rows {
		out[row.RuleID] = row.Status
	}
	return out
}

func TestDiffByRuleIDHeader(t *testing.T) {
	source := "Pattern,RuleID,Category\nfoo,R1,a\nbar,R2,b-edited\nnew,R4,d\n"
	target := "Pattern,RuleID,Category\nfoo,R1,a\nbar,R2,b\nold,R3,c\n"

	res, err := Diff(strings.NewReader(source), strings.NewReader(target))
	require.NoError(t, err)

	assert.Equal(t, 1, res.IDCol)
	assert.Equal(t, map[string]Status{
		"R1": StatusUnchanged,
		"R2": StatusChanged,
		"R3": StatusRemoved,
		"R4": StatusAdded,
	}, statuses(res))

	// Presentation order: added, changed, removed, unchanged
	var got []Status
	for _, row := range res.Rows {
		got = append(got, row.Status)
	}
	assert.Equal(t, []Status{StatusAdded, StatusChanged, StatusRemoved, StatusUnchanged}, got)

	assert.Equal(t, 1, res.Count(StatusAdded))
	assert.Nil(t, res.Rows[0].TargetRow)
	assert.Nil(t, res.Rows[2].SourceRow)
}

func TestDiffHeaderIsCaseInsensitive(t *testing.T) {
	source := " ruleid ,Pattern\nR1,x\n"
	target := " ruleid ,Pattern\nR1,y\n"

	res, err := Diff(strings.NewReader(source), strings.NewReader(target))
	require.NoError(t, err)
	assert.Equal(t, 0, res.IDCol)
	assert.Equal(t, StatusChanged, res.Rows[0].Status)
}

func TestDiffFallsBackToSecondColumn(t *testing.T) {
	source := "Pattern,ID,Category\nfoo,R1,a\n"
	target := "Pattern,ID,Category\nfoo,R1,a\nbar,R9,b\n"

	res, err := Diff(strings.NewReader(source), strings.NewReader(target))
	require.NoError(t, err)
	assert.Equal(t, fallbackIDColumn, res.IDCol)
	assert.Equal(t, map[string]Status{"R1": StatusUnchanged, "R9": StatusRemoved}, statuses(res))
}

func TestDiffSkipsBlankAndIDlessRows(t *testing.T) {
	source := "Pattern,RuleID\n,\n  ,  \nfoo,\nbar,R1\n"
	target := "Pattern,RuleID\nbar,R1\n\n"

	res, err := Diff(strings.NewReader(source), strings.NewReader(target))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StatusUnchanged, res.Rows[0].Status)
}

func TestDiffQuotedFields(t *testing.T) {
	source := "RuleID,Pattern\nR1,\"a, b\"\n"
	target := "RuleID,Pattern\nR1,\"a, b\"\n"

	res, err := Diff(strings.NewReader(source), strings.NewReader(target))
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, res.Rows[0].Status)
	assert.Equal(t, []string{"R1", "a, b"}, res.Rows[0].SourceRow)
}

func TestDiffDuplicateIDKeepsLastContent(t *testing.T) {
	source := "RuleID,Pattern\nR1,first\nR2,x\nR1,second\n"
	target := "RuleID,Pattern\nR1,second\nR2,x\n"

	res, err := Diff(strings.NewReader(source), strings.NewReader(target))
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{"R1": StatusUnchanged, "R2": StatusUnchanged}, statuses(res))
	assert.Equal(t, "R1", res.Rows[0].RuleID)
}

func TestDiffEmptyInputs(t *testing.T) {
	_, err := Diff(strings.NewReader(""), strings.NewReader("RuleID\nR1\n"))
	assert.ErrorIs(t, err, ErrEmptySource)

	_, err = Diff(strings.NewReader("RuleID\nR1\n"), strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestDiffFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "local.csv")
	dst := filepath.Join(dir, "golden.csv")
	require.NoError(t, os.WriteFile(src, []byte("RuleID,Pattern\nR1,x\nR2,y\n"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("RuleID,Pattern\nR1,x\n"), 0644))

	res, err := DiffFiles(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(StatusAdded))
	assert.Equal(t, 1, res.Count(StatusUnchanged))

	_, err = DiffFiles(filepath.Join(dir, "missing.csv"), dst)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
