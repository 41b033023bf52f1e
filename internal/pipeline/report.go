package pipeline

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rikkisnah/stc/pkg/models"
)

var (
	trainingSamplesRegex = regexp.MustCompile(`(?i)Training samples:\s*(\d+)`)
	cvAccuracyRegex      = regexp.MustCompile(`(?i)Cross-validation accuracy:\s*([\d.]+)`)
	rulesAddedRegex      = regexp.MustCompile(`(?i)Rules added:\s*(\d+)`)
)

// summaryLine is the optional one-line JSON summary a script may print.
// When present it wins over prose scraping.
type summaryLine struct {
	TrainingSamples *json.Number `json:"training_samples"`
	CVAccuracy      *json.Number `json:"cv_accuracy"`
	RulesAdded      *json.Number `json:"rules_added"`
}

// lastSummary returns the last stdout line that decodes as a summary object
func lastSummary(stdout string) *summaryLine {
	var found *summaryLine
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(line)))
		dec.UseNumber()
		var s summaryLine
		if err := dec.Decode(&s); err != nil {
			continue
		}
		if s.TrainingSamples != nil || s.CVAccuracy != nil || s.RulesAdded != nil {
			found = &s
		}
	}
	return found
}

// ParseTrainerReport extracts the sample count and cross-validation accuracy
// from trainer output. Missing values stay unset; this never fails.
func ParseTrainerReport(stdout string) models.PartialResult {
	var pr models.PartialResult

	if s := lastSummary(stdout); s != nil {
		if s.TrainingSamples != nil {
			if n, err := s.TrainingSamples.Int64(); err == nil {
				v := int(n)
				pr.TrainingSamples = &v
			}
		}
		if s.CVAccuracy != nil {
			pr.CVAccuracy = s.CVAccuracy.String()
		}
	}

	if pr.TrainingSamples == nil {
		if m := trainingSamplesRegex.FindStringSubmatch(stdout); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				pr.TrainingSamples = &n
			}
		}
	}
	if pr.CVAccuracy == "" {
		if m := cvAccuracyRegex.FindStringSubmatch(stdout); m != nil {
			pr.CVAccuracy = m[1]
		}
	}
	return pr
}

// ParseRulesAdded extracts the number of proposed rules appended to the
// working rule set, or nil when the output does not say
func ParseRulesAdded(stdout string) *int {
	if s := lastSummary(stdout); s != nil && s.RulesAdded != nil {
		if n, err := s.RulesAdded.Int64(); err == nil {
			v := int(n)
			return &v
		}
	}
	if m := rulesAddedRegex.FindStringSubmatch(stdout); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	return nil
}
