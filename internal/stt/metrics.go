package stt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_connect_ms",
		Help:    "Time to establish provider connection (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_audio_bytes_total",
		Help: "Total audio bytes forwarded to the STT provider",
	})

	metricFrameDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_frame_drops_total",
		Help: "Audio frames dropped due to backpressure",
	})

	metricPartials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_partials_total",
		Help: "Partial transcripts received",
	})

	metricFinals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_finals_total",
		Help: "Final transcripts emitted by source (provider, partial_promoted)",
	}, []string{"source"})

	metricFinalsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_finals_rejected_total",
		Help: "Finals rejected by the hallucination filter",
	})

	metricCircuitOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_circuit_open_total",
		Help: "Circuit breaker open events",
	})

	metricSpeechStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_speech_starts_total",
		Help: "Segmenter speech start events",
	})

	metricSpeechEnds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_speech_ends_total",
		Help: "Segmenter speech end events",
	})

	metricGuardBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_guard_blocks_total",
		Help: "Frames above threshold blocked by the post-synthesis guard window",
	})
)
