package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_active",
		Help: "Sessions currently running",
	})

	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_state_transitions_total",
		Help: "State machine transitions by from/to state",
	}, []string{"from", "to"})

	metricTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_turns_total",
		Help: "Completed conversation turns",
	})

	metricBargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_barge_ins_total",
		Help: "Replies cancelled by the user speaking over them",
	})

	metricFieldUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_field_updates_total",
		Help: "Structured data updates emitted",
	})

	metricHandoffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_handoffs_total",
		Help: "Sessions that reached handoff",
	})

	metricAudioDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_audio_drops_total",
		Help: "Inbound audio chunks dropped because the event queue was full",
	})

	metricSentenceDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_sentence_drops_total",
		Help: "Sentences dropped because synthesis fell behind",
	})

	metricUpstreamFails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_upstream_failures_total",
		Help: "Upstream component failures by component",
	}, []string{"component"})
)
