package stt

import (
	"math"
	"time"
)

// SegmenterConfig tunes the energy VAD. Counts are in frames (one
// SendAudio call each, ~100ms of audio at the client frame size).
type SegmenterConfig struct {
	MinRMS    float64 // speech threshold on frame RMS
	MinStart  int     // consecutive speech frames to open an utterance
	Hangover  int     // consecutive silence frames to close it
	GuardMs   int     // ignore speech this long after synthesis starts
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{MinRMS: 1200, MinStart: 2, Hangover: 6, GuardMs: 500}
}

// Segmenter detects utterance boundaries from frame energy. It drives
// both end-of-utterance (Drain) and barge-in (speech while speaking).
type Segmenter struct {
	cfg SegmenterConfig

	speaking     bool
	consecSpeech int
	nonSpeech    int
	guardUntil   time.Time
}

func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Signal is what one audio frame did to the segmenter state.
type Signal int

const (
	SignalNone Signal = iota
	SignalSpeechStart
	SignalSpeechEnd
)

// Feed processes one frame and reports boundary transitions.
func (g *Segmenter) Feed(pcm []byte, now time.Time) Signal {
	rms := RMS(pcm)

	if !g.speaking {
		if rms >= g.cfg.MinRMS {
			if now.Before(g.guardUntil) {
				metricGuardBlocks.Inc()
				return SignalNone
			}
			g.consecSpeech++
			if g.consecSpeech >= g.cfg.MinStart {
				g.speaking = true
				g.nonSpeech = 0
				metricSpeechStarts.Inc()
				return SignalSpeechStart
			}
		} else {
			g.consecSpeech = 0
		}
		return SignalNone
	}

	if rms < g.cfg.MinRMS {
		g.nonSpeech++
		if g.nonSpeech >= g.cfg.Hangover {
			g.speaking = false
			g.consecSpeech = 0
			g.nonSpeech = 0
			metricSpeechEnds.Inc()
			return SignalSpeechEnd
		}
	} else {
		g.nonSpeech = 0
	}
	return SignalNone
}

// Speaking reports whether an utterance is currently open.
func (g *Segmenter) Speaking() bool { return g.speaking }

// Arm sets the guard window so synthesized audio bleeding into the mic
// cannot immediately retrigger speech detection.
func (g *Segmenter) Arm(now time.Time) {
	g.guardUntil = now.Add(time.Duration(g.cfg.GuardMs) * time.Millisecond)
	g.speaking = false
	g.consecSpeech = 0
	g.nonSpeech = 0
}

// RMS computes the root-mean-square level of little-endian PCM16 audio.
func RMS(b []byte) float64 {
	if len(b) < 2 {
		return 0
	}
	var sum float64
	n := len(b) / 2
	for i := 0; i < n; i++ {
		sample := int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(n))
}
