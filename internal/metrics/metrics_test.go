package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scrape returns the exposition text of the default registry
func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordCommand(t *testing.T) {
	c := NewCollector(quietLogger())

	c.RecordCommand("test_step.py", "success", 3*time.Second)
	c.RecordCommand("test_step.py", "success", time.Second)

	text := scrape(t)
	assert.Contains(t, text, `stc_commands_total{outcome="success",step="test_step.py"} 2`)
	assert.Contains(t, text, `stc_command_duration_seconds_count{outcome="success",step="test_step.py"} 2`)
}

func TestPhaseStarted(t *testing.T) {
	c := NewCollector(quietLogger())

	finish := c.PhaseStarted("test-phase")
	assert.Contains(t, scrape(t), `stc_active_phases{phase="test-phase"} 1`)

	finish("paused")
	text := scrape(t)
	assert.Contains(t, text, `stc_active_phases{phase="test-phase"} 0`)
	assert.Contains(t, text, `stc_phase_invocations_total{outcome="paused",phase="test-phase"} 1`)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(quietLogger())
	c.RecordEvent("test-event")
	c.RecordRejected("test-reason")

	text := scrape(t)
	assert.True(t, strings.Contains(text, `stc_events_emitted_total{type="test-event"} 1`), "missing events counter")
	assert.True(t, strings.Contains(text, `stc_start_requests_rejected_total{reason="test-reason"} 1`), "missing rejected counter")
}
