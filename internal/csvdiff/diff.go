// Package csvdiff compares two rule sets by their rule identity column.
package csvdiff

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Status classifies one rule in a diff
type Status string

const (
	StatusAdded     Status = "added"
	StatusChanged   Status = "changed"
	StatusRemoved   Status = "removed"
	StatusUnchanged Status = "unchanged"
)

// order is the presentation order of statuses
var order = map[Status]int{
	StatusAdded:     0,
	StatusChanged:   1,
	StatusRemoved:   2,
	StatusUnchanged: 3,
}

// IDHeader is the identity column name, matched case-insensitively
const IDHeader = "ruleid"

// fallbackIDColumn is used when the source header has no IDHeader column
const fallbackIDColumn = 1

var (
	ErrEmptySource = errors.New("source CSV is empty")
	ErrEmptyTarget = errors.New("target CSV is empty")
)

// Row is one diff entry. SourceRow is unset for removed rules and TargetRow
// for added ones.
type Row struct {
	Status    Status   `json:"status"`
	RuleID    string   `json:"ruleId"`
	SourceRow []string `json:"sourceRow,omitempty"`
	TargetRow []string `json:"targetRow,omitempty"`
}

// Result is the diff of a source rule set against a target
type Result struct {
	Headers []string `json:"headers"`
	IDCol   int      `json:"idColumn"`
	Rows    []Row    `json:"rows"`
}

// Count returns how many rows carry status s
func (r *Result) Count(s Status) int {
	n := 0
	for _, row := range r.Rows {
		if row.Status == s {
			n++
		}
	}
	return n
}

// Diff compares source against target. The identity column is taken from
// the source header. Blank rows and rows without an id are ignored; a
// repeated id keeps its first position and its last content.
func Diff(source, target io.Reader) (*Result, error) {
	sourceRows, err := readAll(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source CSV: %w", err)
	}
	if len(sourceRows) == 0 {
		return nil, ErrEmptySource
	}
	targetRows, err := readAll(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target CSV: %w", err)
	}
	if len(targetRows) == 0 {
		return nil, ErrEmptyTarget
	}

	headers := sourceRows[0]
	idCol := identityColumn(headers)

	sourceIDs, sourceByID := index(sourceRows[1:], idCol)
	targetIDs, targetByID := index(targetRows[1:], idCol)

	result := &Result{Headers: headers, IDCol: idCol, Rows: []Row{}}
	for _, id := range sourceIDs {
		sRow := sourceByID[id]
		tRow, ok := targetByID[id]
		switch {
		case !ok:
			result.Rows = append(result.Rows, Row{Status: StatusAdded, RuleID: id, SourceRow: sRow})
		case !slices.Equal(sRow, tRow):
			result.Rows = append(result.Rows, Row{Status: StatusChanged, RuleID: id, SourceRow: sRow, TargetRow: tRow})
		default:
			result.Rows = append(result.Rows, Row{Status: StatusUnchanged, RuleID: id, SourceRow: sRow, TargetRow: tRow})
		}
	}
	for _, id := range targetIDs {
		if _, ok := sourceByID[id]; !ok {
			result.Rows = append(result.Rows, Row{Status: StatusRemoved, RuleID: id, TargetRow: targetByID[id]})
		}
	}

	slices.SortStableFunc(result.Rows, func(a, b Row) int {
		return order[a.Status] - order[b.Status]
	})
	return result, nil
}

// DiffFiles opens both paths and diffs them
func DiffFiles(sourcePath, targetPath string) (*Result, error) {
	source, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	target, err := os.Open(targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open target: %w", err)
	}
	defer target.Close()

	return Diff(source, target)
}

func readAll(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader.ReadAll()
}

func identityColumn(headers []string) int {
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), IDHeader) {
			return i
		}
	}
	return fallbackIDColumn
}

// index maps ids to rows, keeping first-seen id order
func index(rows [][]string, idCol int) ([]string, map[string][]string) {
	var ids []string
	byID := make(map[string][]string, len(rows))
	for _, row := range rows {
		if blank(row) || idCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[idCol])
		if id == "" {
			continue
		}
		if _, seen := byID[id]; !seen {
			ids = append(ids, id)
		}
		byID[id] = row
	}
	return ids, byID
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
