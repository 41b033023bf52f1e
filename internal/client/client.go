// Package client talks to the pipeline server and tracks what it reports.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rikkisnah/stc/internal/csvdiff"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/runs"
	"github.com/rikkisnah/stc/pkg/models"
)

const (
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 3
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3
	// DefaultRequestTimeout bounds non-streaming requests. Phase requests run
	// for minutes and carry no timeout.
	DefaultRequestTimeout = 30 * time.Second
)

// Transport starts one phase invocation and delivers its events to emit.
// It returns the terminal event, or an error when none arrived.
type Transport interface {
	Train(ctx context.Context, req pipeline.Request, emit events.Emitter) (events.Event, error)
}

// Client handles HTTP requests to a pipeline server
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	maxRetries     int
	baseRetryDelay time.Duration
	buffered       bool
}

// Option configures a Client
type Option func(*Client)

// WithRetries sets the retry budget and base backoff
func WithRetries(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseRetryDelay = baseDelay
	}
}

// WithBuffered asks the server for a single JSON object instead of a stream
func WithBuffered(buffered bool) Option {
	return func(c *Client) { c.buffered = buffered }
}

// NewClient creates a new API client
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		logger:         logger,
		maxRetries:     DefaultMaxRetries,
		baseRetryDelay: DefaultBaseRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Train posts a phase request. A request refused with 429 spawned nothing
// and is retried with backoff; every other outcome is final. Validation
// failures come back as an error terminal event, not as a Go error.
func (c *Client) Train(ctx context.Context, req pipeline.Request, emit events.Emitter) (events.Event, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			c.logger.Warn("Retrying rate limited request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", backoff)

			select {
			case <-ctx.Done():
				return events.Event{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		terminal, err := c.doTrain(ctx, body, emit)
		if err == nil {
			return terminal, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
			return events.Event{}, err
		}
	}

	return events.Event{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doTrain(ctx context.Context, body []byte, emit events.Emitter) (events.Event, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/train", bytes.NewReader(body))
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.buffered {
		httpReq.Header.Set("Accept", "application/json")
	} else {
		httpReq.Header.Set("Accept", events.ContentType)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return events.Event{}, ctx.Err()
		}
		return events.Event{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Debug("Failed to close response body", "error", err)
		}
	}()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return events.Event{}, readAPIError(httpResp)
	}

	var terminal events.Event
	err = events.Decode(httpResp.Body, func(ev events.Event) error {
		if ev.IsTerminal() {
			terminal = ev
		}
		return emit.Emit(ev)
	})
	if err != nil {
		if ctx.Err() != nil {
			return events.Event{}, ctx.Err()
		}
		if httpResp.StatusCode != http.StatusOK && !errors.Is(err, events.ErrIncomplete) {
			return events.Event{}, &APIError{StatusCode: httpResp.StatusCode, Message: err.Error()}
		}
		return events.Event{}, err
	}

	c.logger.Debug("Phase request finished", "status", httpResp.StatusCode, "outcome", terminal.Type)
	return terminal, nil
}

// ListRuns returns every run, newest first
func (c *Client) ListRuns(ctx context.Context) ([]models.RunInfo, error) {
	var out struct {
		Runs []models.RunInfo `json:"runs"`
	}
	if err := c.getJSON(ctx, "/api/runs", &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// InspectRun returns the detail of one run
func (c *Client) InspectRun(ctx context.Context, runID string) (*models.RunDetail, error) {
	var out models.RunDetail
	if err := c.getJSON(ctx, "/api/runs/"+url.PathEscape(runID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRun removes a run directory
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/runs/"+url.PathEscape(runID), nil)
}

// RulesDiff diffs two rule sets on the server
func (c *Client) RulesDiff(ctx context.Context, source, target string) (*csvdiff.Result, error) {
	q := url.Values{"source": {source}, "target": {target}}
	var out csvdiff.Result
	if err := c.getJSON(ctx, "/api/rules/diff?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON retries idempotent reads on server errors
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
				backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			}
			c.logger.Warn("Retrying API request", "path", path, "attempt", attempt, "backoff", backoff)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := c.doJSON(ctx, http.MethodGet, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("request failed: %v", err), Retryable: true}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return readAPIError(httpResp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode, Retryable: isStatusCodeRetryable(resp.StatusCode)}

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
	} else {
		apiErr.Message = fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return apiErr
}

func isRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

func isStatusCodeRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// APIError represents an error returned by the server
type APIError struct {
	Message    string
	StatusCode int
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// IsNotFound reports whether err means the run or file does not exist,
// from either a server 404 or the in-process backend
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return errors.Is(err, runs.ErrRunNotFound)
}
