package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveRequest("GET", "/api/v1/demos/{session_id}/status/", 200, 20*time.Millisecond)
	c.ObserveRequest("GET", "/api/v1/demos/{session_id}/status/", 200, 40*time.Millisecond)
	c.ObserveRequest("POST", "/api/v1/demos/", 0, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "/api/v1/demos/{session_id}/status/", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("POST", "/api/v1/demos/", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.requestDuration))
}

func TestCollectorPollOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObservePoll("object_detection", "completed", 6)
	c.ObservePoll("object_detection", "timed_out", 30)
	c.ObservePoll("gesture_control", "completed", 1)

	expected := `
# HELP vision_demo_polls_total Finished poll loops by demo type and outcome
# TYPE vision_demo_polls_total counter
vision_demo_polls_total{demo_type="gesture_control",outcome="completed"} 1
vision_demo_polls_total{demo_type="object_detection",outcome="completed"} 1
vision_demo_polls_total{demo_type="object_detection",outcome="timed_out"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vision_demo_polls_total"))

	summary := c.Summary()
	assert.Equal(t, int64(3), summary.TotalPolls)
	assert.Equal(t, int64(2), summary.CompletedPolls)
	assert.InDelta(t, 2.0/3.0, summary.CompletionRate, 1e-9)
	assert.InDelta(t, 37.0/3.0, summary.AverageAttempts, 1e-9)
}

func TestCollectorSummaryEmpty(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, c.Summary())

	c.ObserveRequest("GET", "/x", 200, 10*time.Millisecond)
	c.ObserveRequest("GET", "/x", 200, 30*time.Millisecond)
	assert.InDelta(t, 20.0, c.Summary().AverageRequestLatencyMs, 1e-9)
}

func TestNewCollectorRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}
