package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_state_transitions_total",
		Help: "Turn controller state transitions",
	}, []string{"from", "to"})

	metricTurnsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_turns_started_total",
		Help: "Turns started (each issues a new token)",
	})

	metricBargeIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_barge_in_total",
		Help: "Speech interrupted by the user",
	}, []string{"reason"})

	metricBargeInGuardBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_barge_in_guard_blocks_total",
		Help: "Capture activity ignored inside the guard window",
	})

	metricWatchdogFires = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_watchdog_fires_total",
		Help: "Speech calls forced to completion by the watchdog",
	})

	metricStaleCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_stale_callbacks_total",
		Help: "Async results discarded because their turn or operation was superseded",
	}, []string{"op"})

	metricEmptyCaptures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_empty_captures_total",
		Help: "Recordings that produced no text",
	})

	metricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_errors_total",
		Help: "Errors surfaced by the controller",
	}, []string{"kind"})

	metricDedupRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_dedup_rejected_total",
		Help: "Assistant utterances rejected because they were already spoken",
	})

	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_voice_commands_total",
		Help: "Voice commands handled",
	}, []string{"command"})

	metricSpeakSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_speak_seconds",
		Help:    "Time from Speak call to settlement",
		Buckets: prometheus.ExponentialBuckets(0.25, 1.8, 10),
	})

	metricEvaluateSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_evaluate_seconds",
		Help:    "Evaluator latency",
		Buckets: prometheus.ExponentialBuckets(0.1, 1.8, 10),
	})

	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full",
	})
)
