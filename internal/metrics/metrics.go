package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Command metrics
	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stc_command_duration_seconds",
			Help:    "External command duration in seconds by pipeline step",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~34m
		},
		[]string{"step", "outcome"},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stc_commands_total",
			Help: "Total number of pipeline steps executed",
		},
		[]string{"step", "outcome"}, // outcome: "success"/"error"/"canceled"
	)

	// Phase metrics
	phaseInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stc_phase_invocations_total",
			Help: "Total number of phase invocations by terminal event",
		},
		[]string{"phase", "outcome"}, // outcome: terminal event type
	)

	activePhases = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stc_active_phases",
			Help: "Number of phase invocations currently running",
		},
		[]string{"phase"},
	)

	// Protocol metrics
	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stc_events_emitted_total",
			Help: "Total number of progress events written by type",
		},
		[]string{"type"},
	)

	startRequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stc_start_requests_rejected_total",
			Help: "Pipeline start requests rejected before any process was spawned",
		},
		[]string{"reason"}, // "rate_limited"/"validation"/"not_found"
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// RecordCommand records one finished pipeline step
func (c *Collector) RecordCommand(step, outcome string, duration time.Duration) {
	commandsTotal.WithLabelValues(step, outcome).Inc()
	commandDuration.WithLabelValues(step, outcome).Observe(duration.Seconds())
}

// PhaseStarted marks a phase invocation as running. The returned func
// records its terminal outcome and must be called exactly once.
func (c *Collector) PhaseStarted(phase string) func(outcome string) {
	activePhases.WithLabelValues(phase).Inc()
	return func(outcome string) {
		activePhases.WithLabelValues(phase).Dec()
		phaseInvocations.WithLabelValues(phase, outcome).Inc()
	}
}

// RecordEvent counts one emitted event
func (c *Collector) RecordEvent(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordRejected counts a start request refused before spawning anything
func (c *Collector) RecordRejected(reason string) {
	startRequestsRejected.WithLabelValues(reason).Inc()
	c.logger.Debug("Start request rejected", "reason", reason)
}

// Handler exposes the default registry for scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
