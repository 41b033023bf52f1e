package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rikkisnah/stc/internal/csvdiff"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetries(2, time.Millisecond)}, opts...)
	return NewClient(srv.URL+"/", testLogger(), opts...)
}

func writeStream(w http.ResponseWriter, evs ...events.Event) {
	events.WriteStreamHeaders(w)
	em := events.NewStreamEmitter(w)
	for _, ev := range evs {
		_ = em.Emit(ev)
	}
}

func TestTrainStreams(t *testing.T) {
	var got pipeline.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/train", r.URL.Path)
		assert.Equal(t, events.ContentType, r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeStream(w,
			events.CommandStart("get_tickets.py -a"),
			events.Stdout("get_tickets.py -a", "fetched 3"),
			events.CommandEnd("get_tickets.py -a"),
			events.Paused(models.PhaseRules, testRunID, models.Paths{OutputDir: "/runs/x"}, nil),
		)
	})

	acc := events.NewAccumulator()
	terminal, err := c.Train(context.Background(), pipeline.Request{InputMode: pipeline.InputJQL, JQL: "project = HPC"}, acc)
	require.NoError(t, err)

	assert.Equal(t, "project = HPC", got.JQL)
	assert.Equal(t, events.TypePaused, terminal.Type)
	assert.Equal(t, testRunID, terminal.RunID)
	assert.Len(t, acc.Events(), 4)
}

func TestTrainBuffered(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_ = events.WriteSingle(w, http.StatusOK, events.Done(testRunID, models.Result{Message: "ok"}))
	}, WithBuffered(true))

	terminal, err := c.Train(context.Background(), pipeline.Request{}, events.NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, events.TypeDone, terminal.Type)
	assert.Equal(t, "ok", terminal.Result.Message)
}

func TestTrainValidationErrorIsTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = events.WriteSingle(w, http.StatusBadRequest, events.Error("JQL is required."))
	})

	tr := NewTracker()
	tr.Begin(pipeline.Request{})
	terminal, err := c.Train(context.Background(), pipeline.Request{}, tr)
	require.NoError(t, err)
	assert.Equal(t, events.TypeError, terminal.Type)
	assert.Equal(t, "JQL is required.", tr.State().Error)
}

func TestTrainRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_ = events.WriteSingle(w, http.StatusTooManyRequests, events.Error("Too many pipeline starts."))
			return
		}
		writeStream(w, events.Canceled(pipeline.CanceledMessage))
	})

	terminal, err := c.Train(context.Background(), pipeline.Request{}, events.NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, events.TypeCanceled, terminal.Type)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTrainRateLimitExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = events.WriteSingle(w, http.StatusTooManyRequests, events.Error("Too many pipeline starts."))
	})

	_, err := c.Train(context.Background(), pipeline.Request{}, events.NewAccumulator())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Contains(t, err.Error(), "Too many pipeline starts.")
}

func TestTrainIncompleteStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, events.CommandStart("get_tickets.py -a"))
	})

	_, err := c.Train(context.Background(), pipeline.Request{}, events.NewAccumulator())
	assert.ErrorIs(t, err, events.ErrIncomplete)
}

func TestTrainContextCanceled(t *testing.T) {
	started := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, events.CommandStart("ml_train.py"))
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Train(ctx, pipeline.Request{}, events.NewAccumulator())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListAndInspectRuns(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/runs":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"runs": []models.RunInfo{{RunID: testRunID, Status: models.RunPaused, Phase: models.PhaseRules}},
			})
		case "/api/runs/" + testRunID:
			_ = json.NewEncoder(w).Encode(models.RunDetail{
				RunInfo: models.RunInfo{RunID: testRunID, Status: models.RunCompleted},
				Files:   []string{"pipeline.log"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Run not found."})
		}
	})

	infos, err := c.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, models.RunPaused, infos[0].Status)

	detail, err := c.InspectRun(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"pipeline.log"}, detail.Files)

	_, err = c.InspectRun(context.Background(), "train-missing")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "Run not found.")
}

func TestDeleteRun(t *testing.T) {
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_ = json.NewEncoder(w).Encode(map[string]string{"deleted": testRunID})
	})

	require.NoError(t, c.DeleteRun(context.Background(), testRunID))
	assert.Equal(t, http.MethodDelete, method)
}

func TestRulesDiffRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "local.csv", r.URL.Query().Get("source"))
		assert.Equal(t, "golden.csv", r.URL.Query().Get("target"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(csvdiff.Result{
			Headers: []string{"RuleID"},
			Rows:    []csvdiff.Row{{Status: csvdiff.StatusAdded, RuleID: "R1"}},
		})
	})

	res, err := c.RulesDiff(context.Background(), "local.csv", "golden.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(csvdiff.StatusAdded))
	assert.Equal(t, int32(2), calls.Load())
}

func TestBadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "source is required."})
	})

	_, err := c.RulesDiff(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
