package handoff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHandoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_dispatches_total",
		Help: "Handoff dispatch attempts by outcome",
	}, []string{"outcome"})

	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "handoff_retries_total",
		Help: "Handoff submits retried after a first failure",
	})
)
