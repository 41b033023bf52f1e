package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rikkisnah/stc/internal/client"
	"github.com/rikkisnah/stc/internal/config"
	"github.com/rikkisnah/stc/internal/csvdiff"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/metrics"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/runner"
	"github.com/rikkisnah/stc/internal/runs"
	"github.com/rikkisnah/stc/pkg/models"
)

// scriptRunner stands in for the pipeline scripts. It writes the
// categorized CSV the phases read back and can block one script until the
// request is canceled.
type scriptRunner struct {
	mu      sync.Mutex
	block   string
	started chan struct{}
}

func scriptName(cmd runner.Command) string {
	for _, a := range cmd.Args {
		if strings.HasSuffix(a, ".py") {
			return filepath.Base(a)
		}
	}
	return ""
}

func flagValue(cmd runner.Command, flag string) string {
	for i, a := range cmd.Args {
		if a == flag && i+1 < len(cmd.Args) {
			return cmd.Args[i+1]
		}
	}
	return ""
}

func (s *scriptRunner) Run(ctx context.Context, cmd runner.Command, onLine runner.LineFunc) (*runner.Result, error) {
	name := scriptName(cmd)

	s.mu.Lock()
	block := s.block == name
	s.mu.Unlock()
	if block {
		close(s.started)
		<-ctx.Done()
		return nil, runner.ErrCanceled
	}

	if name == "rule_engine_categorize.py" {
		out := filepath.Join(flagValue(cmd, "--output-dir"), runs.TicketsCSVName)
		if err := os.WriteFile(out, []byte("key,category\nHPC-1,storage\n"), 0644); err != nil {
			return nil, err
		}
	}
	onLine(runner.Stdout, "ok "+name)
	return &runner.Result{Stdout: "ok " + name + "\n"}, nil
}

func (s *scriptRunner) blockOn(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = name
	s.started = make(chan struct{})
	return s.started
}

type testEnv struct {
	cfg    *config.Config
	runs   *runs.Manager
	runner *scriptRunner
	server *Server
	http   *httptest.Server
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	repo := t.TempDir()

	cfg := config.Default()
	cfg.Pipeline.RepoRoot = repo
	cfg.Pipeline.Launcher = []string{"python3"}
	cfg.Server.StartRatePerMinute = 600
	cfg.Server.StartBurst = 100
	for _, m := range mutate {
		m(cfg)
	}

	golden := cfg.Pipeline.Resolve(cfg.Pipeline.GoldenRules)
	require.NoError(t, os.MkdirAll(filepath.Dir(golden), 0755))
	require.NoError(t, os.WriteFile(golden, []byte("RuleID,Pattern\nR1,disk\n"), 0644))

	logger := quietLogger()
	mc := metrics.NewCollector(logger)
	rm := runs.NewManager(cfg.Pipeline.RunsPath(), logger)
	sr := &scriptRunner{}
	ctrl := pipeline.NewController(cfg, sr, rm, mc, logger)
	srv := New(cfg, ctrl, rm, mc, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{cfg: cfg, runs: rm, runner: sr, server: srv, http: ts}
}

func (e *testEnv) post(t *testing.T, ctx context.Context, accept string, req pipeline.Request) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.http.URL+"/api/train", bytes.NewReader(body))
	require.NoError(t, err)
	if accept != "" {
		httpReq.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeAll(t *testing.T, r io.Reader) []events.Event {
	t.Helper()
	var evs []events.Event
	require.NoError(t, events.Decode(r, func(ev events.Event) error {
		evs = append(evs, ev)
		return nil
	}))
	return evs
}

var jqlRequest = pipeline.Request{InputMode: pipeline.InputJQL, JQL: "project = HPC"}

func (e *testEnv) startPhase1(t *testing.T) string {
	t.Helper()
	resp := e.post(t, context.Background(), "", jqlRequest)
	evs := decodeAll(t, resp.Body)
	terminal := evs[len(evs)-1]
	require.Equal(t, events.TypePaused, terminal.Type, terminal.Error)
	return terminal.RunID
}

func TestTrainStreamsPhase1(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, context.Background(), "", jqlRequest)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, events.ContentType, resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	evs := decodeAll(t, resp.Body)
	require.NotEmpty(t, evs)
	assert.Equal(t, events.TypeCommandStart, evs[0].Type)

	terminal := evs[len(evs)-1]
	assert.Equal(t, events.TypePaused, terminal.Type)
	assert.Equal(t, models.PhaseRules, terminal.Phase)

	_, err := env.runs.Open(terminal.RunID)
	assert.NoError(t, err)
}

func TestTrainBufferedJSON(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, context.Background(), "application/json", jqlRequest)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var ev events.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	assert.Equal(t, events.TypePaused, ev.Type)
	assert.NotEmpty(t, ev.RunID)
}

func TestTrainRejections(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.runs.Root(), "train-no-checkpoint"), 0755))
	untrained := filepath.Join(env.runs.Root(), "train-untrained")
	require.NoError(t, os.MkdirAll(filepath.Join(untrained, "ml-model"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(untrained, "phase-meta.json"),
		[]byte(`{"normalizeDate":"2026-02-16","trainingData":"t.csv","minSamples":5,"maxReviewRows":10}`), 0644))

	tests := []struct {
		name    string
		req     pipeline.Request
		status  int
		message string
	}{
		{"missing query", pipeline.Request{InputMode: pipeline.InputJQL}, http.StatusBadRequest, "JQL is required."},
		{"missing run id", pipeline.Request{Phase: models.PhaseML}, http.StatusBadRequest, "runId is required"},
		{"bad run id", pipeline.Request{Phase: models.PhaseML, RunID: "../etc"}, http.StatusBadRequest, "invalid runId"},
		{"unknown run", pipeline.Request{Phase: models.PhaseML, RunID: "train-missing"}, http.StatusNotFound, "not found"},
		{"no checkpoint", pipeline.Request{Phase: models.PhaseML, RunID: "train-no-checkpoint"}, http.StatusNotFound, "no checkpoint"},
		{"no trained model", pipeline.Request{Phase: models.PhaseProposal, RunID: "train-untrained"}, http.StatusNotFound, "no trained model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, context.Background(), "", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)

			evs := decodeAll(t, resp.Body)
			require.Len(t, evs, 1)
			assert.Equal(t, events.TypeError, evs[0].Type)
			assert.Contains(t, evs[0].Error, tt.message)
		})
	}

	infos, err := env.runs.List()
	require.NoError(t, err)
	assert.Len(t, infos, 2, "only the pre-made directories exist")
}

func TestTrainInvalidBody(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.http.URL+"/api/train", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	evs := decodeAll(t, resp.Body)
	assert.Contains(t, evs[0].Error, "Invalid request body")
}

func TestTrainRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.StartRatePerMinute = 1
		cfg.Server.StartBurst = 1
	})

	first := env.post(t, context.Background(), "", pipeline.Request{InputMode: pipeline.InputJQL})
	assert.Equal(t, http.StatusBadRequest, first.StatusCode)

	second := env.post(t, context.Background(), "", jqlRequest)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	evs := decodeAll(t, second.Body)
	assert.Contains(t, evs[0].Error, "Too many pipeline starts")
}

func TestTrainConflictAndCancel(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startPhase1(t)
	started := env.runner.blockOn("ml_train.py")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		body, _ := json.Marshal(pipeline.Request{Phase: models.PhaseML, RunID: runID})
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, env.http.URL+"/api/train", bytes.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	<-started

	second := env.post(t, context.Background(), "", pipeline.Request{Phase: models.PhaseML, RunID: runID})
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	del, err := http.NewRequest(http.MethodDelete, env.http.URL+"/api/runs/"+runID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusConflict, delResp.StatusCode)

	cancel()
	<-done

	// The phase 2 cancel keeps the run and releases it
	require.Eventually(t, func() bool { return !env.server.isActive(runID) }, 2*time.Second, 10*time.Millisecond)
	_, err = env.runs.Open(runID)
	assert.NoError(t, err)
}

func TestRunsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startPhase1(t)

	resp, err := http.Get(env.http.URL + "/api/runs")
	require.NoError(t, err)
	var list struct {
		Runs []models.RunInfo `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Runs, 1)
	assert.Equal(t, runID, list.Runs[0].RunID)
	assert.Equal(t, models.RunPaused, list.Runs[0].Status)

	resp, err = http.Get(env.http.URL + "/api/runs/" + runID)
	require.NoError(t, err)
	var detail models.RunDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	resp.Body.Close()
	assert.Contains(t, detail.Files, runs.TicketsCSVName)

	resp, err = http.Get(env.http.URL + "/api/runs/train-missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/api/runs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	del, err := http.NewRequest(http.MethodDelete, env.http.URL+"/api/runs/"+runID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(del)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = env.runs.Open(runID)
	assert.ErrorIs(t, err, runs.ErrRunNotFound)
}

func TestRulesDiffEndpoint(t *testing.T) {
	env := newTestEnv(t)
	repo := env.cfg.Pipeline.RepoRoot
	require.NoError(t, os.WriteFile(filepath.Join(repo, "local.csv"), []byte("RuleID,Pattern\nR1,disk\nR2,net\n"), 0644))

	golden := env.cfg.Pipeline.GoldenRules
	resp, err := http.Get(env.http.URL + "/api/rules/diff?source=local.csv&target=" + golden)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res csvdiff.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res.Count(csvdiff.StatusAdded))
	assert.Equal(t, 1, res.Count(csvdiff.StatusUnchanged))

	for query, status := range map[string]int{
		"source=local.csv":                    http.StatusBadRequest,
		"source=missing.csv&target=local.csv": http.StatusNotFound,
	} {
		resp, err := http.Get(env.http.URL + "/api/rules/diff?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, status, resp.StatusCode, query)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.startPhase1(t)

	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "stc_phase_invocations_total")
	assert.Contains(t, string(body), "stc_events_emitted_total")
}

func TestClientAgainstServer(t *testing.T) {
	env := newTestEnv(t)
	c := client.NewClient(env.http.URL, quietLogger())
	ctx := context.Background()

	tr := client.NewTracker()
	tr.Begin(jqlRequest)
	terminal, err := c.Train(ctx, jqlRequest, tr)
	require.NoError(t, err)
	require.Equal(t, events.TypePaused, terminal.Type)

	phase, ok := client.ContinuePhase(tr.Snapshot())
	require.True(t, ok)
	assert.Equal(t, models.PhaseML, phase)

	finish := pipeline.Request{Phase: phase, RunID: terminal.RunID, Finish: true}
	tr.Begin(finish)
	terminal, err = c.Train(ctx, finish, tr)
	require.NoError(t, err)
	assert.Equal(t, events.TypeDone, terminal.Type)
	assert.True(t, tr.Finished())

	infos, err := c.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	require.NoError(t, c.DeleteRun(ctx, terminal.RunID))
	_, err = c.InspectRun(ctx, terminal.RunID)
	assert.True(t, client.IsNotFound(err))
}
