// Package stt wraps the streaming speech-to-text boundary: raw PCM16@16k
// frames in, partial/final transcript events out. End-of-utterance is
// driven by the energy Segmenter; partials are UI-only and never feed
// field extraction.
package stt

import "context"

type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventError
)

// Event is one transcript event from the adapter. Partials are mutable
// and superseded by later partials; finals are immutable.
type Event struct {
	Kind EventKind
	Text string
}

// Transcriber is the adapter contract the session manager consumes.
type Transcriber interface {
	// SendAudio forwards one audio frame. Returns false when the frame
	// was dropped on backpressure (drop-latest policy).
	SendAudio(pcm []byte) bool
	// Drain asks the adapter to finalize the buffered utterance now
	// (called on segmenter end-of-utterance).
	Drain()
	// Reset discards any buffered partial without promoting it to final.
	Reset()
	// Events emits transcript events until Close.
	Events() <-chan Event
	Close()
}

// Factory opens a Transcriber bound to ctx; ctx cancellation tears the
// provider connection down.
type Factory func(ctx context.Context, sessionID string) (Transcriber, error)
