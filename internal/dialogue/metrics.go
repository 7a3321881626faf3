package dialogue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_requests_total",
		Help: "Reply generation requests by outcome",
	}, []string{"outcome"})

	metricTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_tokens_total",
		Help: "Spoken reply tokens streamed (state blocks excluded)",
	})

	metricTTFTMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialogue_ttft_ms",
		Help:    "Time to first reply token (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})
)
