// Package tts wraps the text-to-speech boundary. Reply text is spoken
// sentence by sentence so playback starts before the full reply exists;
// every stream is cancelable mid-flight for barge-in.
package tts

import (
	"context"
	"strings"
)

// Synthesizer converts one sentence into a stream of PCM16@16k chunks.
// The channel closes when the sentence is fully delivered or ctx is
// cancelled; cancellation releases all buffered audio.
type Synthesizer interface {
	Speak(ctx context.Context, sentence string) (<-chan []byte, error)
}

// SentenceBuffer accumulates streamed reply tokens and yields complete
// sentences. Splitting happens on sentence-terminal punctuation only —
// never on commas, which fragments speech and adds synthesis latency.
type SentenceBuffer struct {
	buf strings.Builder
}

// Add appends a token and returns any complete sentences it closed.
func (s *SentenceBuffer) Add(token string) []string {
	s.buf.WriteString(token)
	text := s.buf.String()

	var out []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Require whitespace after the terminator so "3.5" keeps
		// streaming; a trailing sentence is picked up by Flush.
		if i+1 >= len(text) || !isSpace(text[i+1]) {
			continue
		}
		if sent := strings.TrimSpace(text[start : i+1]); sent != "" {
			out = append(out, sent)
		}
		start = i + 1
	}
	if start > 0 {
		s.buf.Reset()
		s.buf.WriteString(text[start:])
	}
	return out
}

// Flush returns the trailing partial sentence, if any.
func (s *SentenceBuffer) Flush() string {
	out := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return out
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' || b == '\r' }
