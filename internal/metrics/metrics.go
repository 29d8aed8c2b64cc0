// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tool call outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeValidation = "validation"
)

var (
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleuth_tool_calls_total",
			Help: "Total number of tool calls by final outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sleuth_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds, all attempts included",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"tool"},
	)

	ToolRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sleuth_tool_retries_total",
			Help: "Total number of tool call retries",
		},
	)

	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleuth_turns_total",
			Help: "Total number of conversation turns by final status",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sleuth_turn_duration_seconds",
			Help:    "Conversation turn duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	FollowupExpansions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sleuth_followup_expansions_total",
			Help: "Total number of follow-up plans executed",
		},
	)

	EnrichmentQuality = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sleuth_enrichment_quality",
			Help:    "Response enrichment quality score",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	OracleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleuth_oracle_failures_total",
			Help: "Total number of oracle failures by operation",
		},
		[]string{"op"},
	)

	ToolServiceUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleuth_tool_service_up",
			Help: "1 when the last tool service health probe succeeded",
		},
	)

	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleuth_tool_catalog_size",
			Help: "Number of tools in the cached catalog",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleuth_active_sessions",
			Help: "Number of turns currently running",
		},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleuth_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
