package aifetchly

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aifetchly_stream_events_total",
			Help: "Total stream events processed, by event kind",
		},
		[]string{"kind"},
	)

	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aifetchly_tool_executions_total",
			Help: "Total tool executions, by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	toolExecutionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aifetchly_tool_execution_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		},
		[]string{"tool"},
	)

	rateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aifetchly_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate-limit slot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	pendingToolCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aifetchly_pending_tool_calls",
			Help: "Tool calls currently outstanding across turns",
		},
	)
)
