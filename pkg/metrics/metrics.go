// Package metrics provides Prometheus metrics collection for the
// personalization workflow.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lewisedginton/sentio/pkg/logger"
)

const (
	subsystem = "sentio"
)

// Metrics provides Prometheus metrics collection for workflow processing,
// generation calls and outbound delivery.
type Metrics struct {
	reg *prometheus.Registry

	WorkflowsCompletedCounter prometheus.Counter
	WorkflowFailuresCounter   *prometheus.CounterVec
	WorkflowDurationHistogram prometheus.Histogram

	GenerationAttemptsCounter prometheus.Counter
	GenerationRetriesCounter  prometheus.Counter
	PromptTokensCounter       prometheus.Counter
	CompletionTokensCounter   prometheus.Counter

	SendFailuresCounter prometheus.Counter

	log logger.Logger
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics(l logger.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: l,
	}

	m.WorkflowsCompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "workflows_completed_total",
		Help:      "Workflows that reached the committed stage",
	})
	m.WorkflowFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "workflow_failures_total",
		Help:      "Workflow failures by stage",
	}, []string{"stage"})
	m.WorkflowDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "workflow_duration_seconds",
		Help:      "End-to-end workflow duration in seconds",
		Buckets:   []float64{0.1, 0.3, 0.5, 1.0, 3.0, 5.0, 10.0, 30.0, 60.0},
	})

	m.GenerationAttemptsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "generation_attempts_total",
		Help:      "Generation API calls attempted, including retries",
	})
	m.GenerationRetriesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "generation_retries_total",
		Help:      "Generation API calls that were retried",
	})
	m.PromptTokensCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "prompt_tokens_total",
		Help:      "Prompt tokens consumed",
	})
	m.CompletionTokensCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "completion_tokens_total",
		Help:      "Completion tokens consumed",
	})

	m.SendFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "send_failures_total",
		Help:      "Outbound deliveries that failed after generation",
	})

	m.reg.MustRegister(
		m.WorkflowsCompletedCounter,
		m.WorkflowFailuresCounter,
		m.WorkflowDurationHistogram,
		m.GenerationAttemptsCounter,
		m.GenerationRetriesCounter,
		m.PromptTokensCounter,
		m.CompletionTokensCounter,
		m.SendFailuresCounter,
	)

	return m
}

// ObserveWorkflow records a completed workflow with its duration.
func (m *Metrics) ObserveWorkflow(duration time.Duration) {
	m.WorkflowsCompletedCounter.Inc()
	m.WorkflowDurationHistogram.Observe(duration.Seconds())
}

// ObserveFailure records a workflow failure at the given stage.
func (m *Metrics) ObserveFailure(stage string) {
	m.WorkflowFailuresCounter.WithLabelValues(stage).Inc()
}

// ObserveTokenUsage records token consumption from a generation response.
func (m *Metrics) ObserveTokenUsage(promptTokens, completionTokens int) {
	m.PromptTokensCounter.Add(float64(promptTokens))
	m.CompletionTokensCounter.Add(float64(completionTokens))
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server on the given port and blocks until the
// context is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		m.log.Info("Metrics server listening", logger.IntField("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
