package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/sentio/pkg/logger"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:  logger.DebugLevel,
		Output: io.Discard,
	})
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveWorkflow(t *testing.T) {
	m := NewMetrics(newTestLogger())

	m.ObserveWorkflow(250 * time.Millisecond)
	m.ObserveWorkflow(time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, "sentio_workflows_completed_total 2")
	assert.Contains(t, body, "sentio_workflow_duration_seconds_count 2")
}

func TestObserveFailureByStage(t *testing.T) {
	m := NewMetrics(newTestLogger())

	m.ObserveFailure("generating")
	m.ObserveFailure("generating")
	m.ObserveFailure("send")

	body := scrape(t, m)
	assert.Contains(t, body, `sentio_workflow_failures_total{stage="generating"} 2`)
	assert.Contains(t, body, `sentio_workflow_failures_total{stage="send"} 1`)
}

func TestObserveTokenUsage(t *testing.T) {
	m := NewMetrics(newTestLogger())

	m.ObserveTokenUsage(100, 40)
	m.ObserveTokenUsage(50, 10)

	body := scrape(t, m)
	assert.Contains(t, body, "sentio_prompt_tokens_total 150")
	assert.Contains(t, body, "sentio_completion_tokens_total 50")
}
