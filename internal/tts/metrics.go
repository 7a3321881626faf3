package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSynthMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_synth_ms",
		Help:    "Latency from synthesis request to decoded audio (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_audio_bytes_total",
		Help: "Synthesized audio bytes delivered to sessions",
	})

	metricCancels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_cancels_total",
		Help: "Synthesis streams cancelled mid-flight (barge-in or teardown)",
	})
)
