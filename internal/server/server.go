// Package server exposes the phase controller, run inventory and rules diff
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rikkisnah/stc/internal/config"
	"github.com/rikkisnah/stc/internal/metrics"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/runs"
)

// maxRequestBody bounds a phase request body
const maxRequestBody = 1 << 20

// Server serves the pipeline API
type Server struct {
	cfg        *config.Config
	controller *pipeline.Controller
	runs       *runs.Manager
	metrics    *metrics.Collector
	limiters   *limiterPool
	logger     *slog.Logger
	httpServer *http.Server

	// active holds the run ids with a phase in flight
	mu     sync.Mutex
	active map[string]bool
}

// New creates a server. Nothing listens until ListenAndServe.
func New(cfg *config.Config, controller *pipeline.Controller, rm *runs.Manager, mc *metrics.Collector, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		controller: controller,
		runs:       rm,
		metrics:    mc,
		limiters:   newLimiterPool(cfg.Server.StartRatePerMinute, cfg.Server.StartBurst, logger),
		logger:     logger,
		active:     make(map[string]bool),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		// No write timeout: a phase streams for as long as its commands run
	}
	return s
}

// Handler returns the routed handler wrapped in request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleInspectRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/rules/diff", s.handleRulesDiff)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return s.withRequestID(mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
// In-flight phases see their request contexts canceled and clean up.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		// Streams outlived the budget; closing cancels their contexts
		s.logger.Warn("Graceful shutdown timed out, closing connections", "error", err)
		return s.httpServer.Close()
	}
	return nil
}

type requestIDKey struct{}

// withRequestID tags each request with a uuid and logs its outcome
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.logger.Debug("Request served",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// statusRecorder captures the response status. It forwards Flush so
// streamed responses keep flushing through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// clientID keys the start rate limiter by remote host
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// claim marks runID as active. It fails if a phase already runs against it.
func (s *Server) claim(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[runID] {
		return false
	}
	s.active[runID] = true
	return true
}

func (s *Server) release(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

func (s *Server) isActive(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[runID]
}
