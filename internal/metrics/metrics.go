// Package metrics exposes the prometheus collectors of the flow engine and turn pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for NodeVisits.
const (
	OutcomeHandled   = "handled"
	OutcomeUnhandled = "unhandled"
	OutcomeError     = "error"
)

var (
	NodeVisits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_flow_node_visits_total",
			Help: "Total number of flow node visits by node kind and outcome",
		},
		[]string{"node_type", "outcome"},
	)

	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_turns_processed_total",
			Help: "Total number of inbound turns processed",
		},
		[]string{"tenant_id", "result"},
	)

	TurnSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadpipe_turn_steps",
			Help:    "Engine steps executed per turn",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "leadpipe_turn_duration_seconds",
			Help: "Duration of turn processing in seconds",
		},
		[]string{"tenant_id"},
	)

	LegacyFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_legacy_fallbacks_total",
			Help: "Turns routed to the legacy stage dispatcher",
		},
		[]string{"handler"},
	)

	ExtractorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_extractor_calls_total",
			Help: "Intent extractor calls by result",
		},
		[]string{"result"},
	)

	DuplicateMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpipe_duplicate_messages_total",
			Help: "Inbound messages dropped as duplicates",
		},
	)
)

// Turn results for TurnsProcessed.
const (
	TurnMessage  = "message"
	TurnFallback = "fallback"
	TurnCeiling  = "ceiling"
	TurnApology  = "apology"
)
