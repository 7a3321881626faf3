// Package session owns one connection's conversational lifecycle: the
// state machine, turn log, field accumulation, barge-in cancellation,
// and handoff triggering. All per-session state is touched by a single
// dispatch loop; the outside world (websocket handler, adapter
// goroutines) only pushes typed events into the loop's channel.
package session

import (
	"context"
	"fmt"
	"time"

	"loanvoice/agent/internal/convlog"
	"loanvoice/agent/internal/dialogue"
	"loanvoice/agent/internal/fields"
	"loanvoice/agent/internal/handoff"
	"loanvoice/agent/internal/readiness"
	"loanvoice/agent/internal/registry"
	"loanvoice/agent/internal/stt"
	"loanvoice/agent/internal/tts"
)

// State is the session state machine position.
type State string

const (
	StateConnecting      State = "CONNECTING"
	StateListening       State = "LISTENING"
	StateTranscribing    State = "TRANSCRIBING"
	StateGeneratingReply State = "GENERATING_REPLY"
	StateSpeaking        State = "SPEAKING"
	StateReadyForHandoff State = "READY_FOR_HANDOFF"
	StateClosed          State = "CLOSED"
)

// Turn is one completed conversational exchange. Immutable once
// appended; the greeting turn has an empty UserText.
type Turn struct {
	UserText      string
	AssistantText string
	Timestamp     time.Time
}

// UpstreamError tags an adapter failure with the failing component.
type UpstreamError struct {
	Component string
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Sender delivers one wire frame to the client. Called only from the
// dispatch loop; a send failure is a transport error and ends the session.
type Sender func(msg []byte) error

// Config carries per-session tunables.
type Config struct {
	Greeting         string
	MaxUpstreamFails int           // consecutive failures before the session closes
	RetryBackoff     time.Duration // delay before the single upstream retry
	Segmenter        stt.SegmenterConfig
}

func DefaultConfig() Config {
	return Config{
		Greeting:         "Hi, I'm LoanVoice. I'll help you apply for a loan. What's your full name?",
		MaxUpstreamFails: 4,
		RetryBackoff:     400 * time.Millisecond,
		Segmenter:        stt.DefaultSegmenterConfig(),
	}
}

// Deps are the collaborators a session runs against. Everything is an
// interface so tests drive the loop with fakes.
type Deps struct {
	Transcriber stt.Transcriber
	Policy      dialogue.Policy
	Synth       tts.Synthesizer
	Dispatcher  *handoff.Dispatcher
	Logger      convlog.Logger
	Registry    *registry.Registry
	Send        Sender
}

// Session is one live voice connection.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	events chan event
	seg    *stt.Segmenter
	eval   *readiness.Evaluator

	// Everything below is owned by the dispatch loop.
	state       State
	turns       []Turn
	fieldMap    fields.Map
	linkedAppID string
	askingHint  fields.Field

	replyGen     int
	replyCancel  context.CancelFunc
	replyUser    string // user text of the in-flight exchange
	replyAttempt int
	speakQ       chan string
	sentences    tts.SentenceBuffer

	upstreamFails int

	done chan struct{}
}

// New builds a session. Run must be called to start the dispatch loop.
func New(id string, cfg Config, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Logger == nil {
		deps.Logger = convlog.Nop{}
	}
	return &Session{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 256),
		seg:      stt.NewSegmenter(cfg.Segmenter),
		eval:     readiness.New(),
		state:    StateConnecting,
		fieldMap: fields.Map{},
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// State is safe to call only from tests that know the loop is idle;
// production callers observe state through wire messages.
func (s *Session) State() State { return s.state }

// Done closes when the dispatch loop has exited and resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnAudioChunk ingests one client audio frame. Frames are dropped, not
// queued unboundedly, when the session is backlogged.
func (s *Session) OnAudioChunk(pcm []byte) {
	select {
	case s.events <- event{kind: evAudio, audio: pcm}:
	default:
		metricAudioDrops.Inc()
	}
}

// OnTextInput ingests typed text, treated like a final transcript.
func (s *Session) OnTextInput(text string) {
	s.push(event{kind: evTextInput, text: text})
}

// OnDisconnect is called by the transport when the client goes away.
func (s *Session) OnDisconnect() {
	s.push(event{kind: evDisconnect})
}

// OnUpstreamError lets the transport surface adapter failures it
// observes (e.g. the transcriber factory failing on reconnect).
func (s *Session) OnUpstreamError(component string, err error) {
	s.push(event{kind: evUpstreamErr, component: component, err: err})
}

// Shutdown ends the session from outside the loop (registry replacement,
// server drain). Idempotent.
func (s *Session) Shutdown(reason string) {
	s.push(event{kind: evShutdown, text: reason})
}

// push delivers control events, giving up only when the session is gone.
func (s *Session) push(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
