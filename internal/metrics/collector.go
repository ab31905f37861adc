// Package metrics exports request and poll metrics for the vision API client.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements transport.Observer and demo.PollObserver.
type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	polls           *prometheus.CounterVec
	pollAttempts    *prometheus.HistogramVec

	mu      sync.Mutex
	summary aggregate
}

type aggregate struct {
	total     int64
	completed int64
	attempts  int64
	latency   time.Duration
	requests  int64
}

// NewCollector registers the collector's metrics with reg. A nil reg uses the default
// registerer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_api_requests_total",
				Help: "Requests sent to the vision API by endpoint and status code",
			},
			[]string{"method", "endpoint", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision_api_request_duration_seconds",
				Help:    "Latency of vision API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_demo_polls_total",
				Help: "Finished poll loops by demo type and outcome",
			},
			[]string{"demo_type", "outcome"},
		),
		pollAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision_demo_poll_attempts",
				Help:    "Status checks issued per poll loop",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"demo_type"},
		),
	}
	for _, collector := range []prometheus.Collector{c.requests, c.requestDuration, c.polls, c.pollAttempts} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveRequest records one request. endpoint is the unexpanded template so session ids
// never become label values.
func (c *Collector) ObserveRequest(method, endpoint string, statusCode int, elapsed time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	c.requests.WithLabelValues(method, endpoint, code).Inc()
	c.requestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())

	c.mu.Lock()
	c.summary.requests++
	c.summary.latency += elapsed
	c.mu.Unlock()
}

// ObservePoll records the outcome of one poll loop.
func (c *Collector) ObservePoll(demoType, outcome string, attempts int) {
	c.polls.WithLabelValues(demoType, outcome).Inc()
	c.pollAttempts.WithLabelValues(demoType).Observe(float64(attempts))

	c.mu.Lock()
	c.summary.total++
	c.summary.attempts += int64(attempts)
	if outcome == "completed" {
		c.summary.completed++
	}
	c.mu.Unlock()
}

// Summary is the aggregate view served to the gateway dashboard.
type Summary struct {
	TotalPolls              int64   `json:"total_polls"`
	CompletedPolls          int64   `json:"completed_polls"`
	CompletionRate          float64 `json:"completion_rate"`
	AverageAttempts         float64 `json:"average_attempts"`
	AverageRequestLatencyMs float64 `json:"average_request_latency_ms"`
}

// Summary aggregates everything observed since the collector was created.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	agg := c.summary
	c.mu.Unlock()

	out := Summary{TotalPolls: agg.total, CompletedPolls: agg.completed}
	if agg.total > 0 {
		out.CompletionRate = float64(agg.completed) / float64(agg.total)
		out.AverageAttempts = float64(agg.attempts) / float64(agg.total)
	}
	if agg.requests > 0 {
		out.AverageRequestLatencyMs = float64(agg.latency.Milliseconds()) / float64(agg.requests)
	}
	return out
}
