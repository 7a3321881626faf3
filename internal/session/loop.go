package session

import (
	"encoding/base64"
	"log"
	"time"

	"loanvoice/agent/internal/convlog"
	"loanvoice/agent/internal/fields"
	"loanvoice/agent/internal/protocol"
	"loanvoice/agent/internal/readiness"
	"loanvoice/agent/internal/registry"
	"loanvoice/agent/internal/stt"
	"loanvoice/agent/internal/tts"
)

type eventKind int

const (
	evAudio eventKind = iota
	evTextInput
	evSTT
	evReplyToken
	evReplyDone
	evReplyErr
	evRetryReply
	evSynthAudio
	evSynthDone
	evSynthErr
	evHandoffResult
	evUpstreamErr
	evDisconnect
	evShutdown
)

// event is the single currency of the dispatch loop. Reply and
// synthesis events carry the generation they belong to, so anything
// from a cancelled reply is dropped on arrival.
type event struct {
	kind      eventKind
	audio     []byte
	text      string
	stt       stt.Event
	gen       int
	state     readiness.ReplyState
	component string
	err       error
	appID     string
}

// Run executes the dispatch loop until the session closes. It owns all
// mutable session state; nothing else touches it.
func (s *Session) Run() {
	metricSessions.Inc()
	defer func() {
		s.cancel()
		if s.deps.Transcriber != nil {
			s.deps.Transcriber.Close()
		}
		if s.deps.Registry != nil {
			s.deps.Registry.Publish(registry.Notice{SessionID: s.id, Type: "session_closed"})
			s.deps.Registry.Remove(s)
		}
		metricSessions.Dec()
		close(s.done)
	}()

	// Forward transcriber events into the loop.
	if s.deps.Transcriber != nil {
		go func() {
			for e := range s.deps.Transcriber.Events() {
				s.push(event{kind: evSTT, stt: e})
			}
		}()
	}

	if s.deps.Registry != nil {
		s.deps.Registry.Publish(registry.Notice{SessionID: s.id, Type: "session_started"})
	}
	s.setState(StateListening)
	if s.cfg.Greeting != "" {
		s.speakAssistant("", s.cfg.Greeting)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.dispatch(ev)
		}
		if s.state == StateClosed {
			return
		}
	}
}

func (s *Session) dispatch(ev event) {
	switch ev.kind {
	case evAudio:
		s.handleAudio(ev.audio)
	case evTextInput:
		s.handleTextInput(ev.text)
	case evSTT:
		s.handleSTT(ev.stt)
	case evReplyToken:
		s.handleReplyToken(ev.gen, ev.text)
	case evReplyDone:
		s.handleReplyDone(ev.gen, ev.text, ev.state)
	case evReplyErr:
		s.handleReplyErr(ev.gen, ev.err)
	case evRetryReply:
		s.handleRetryReply(ev.gen)
	case evSynthAudio:
		s.handleSynthAudio(ev.gen, ev.audio)
	case evSynthDone:
		s.handleSynthDone(ev.gen)
	case evSynthErr:
		s.handleSynthErr(ev.gen, ev.err)
	case evHandoffResult:
		s.handleHandoffResult(ev.appID, ev.err)
	case evUpstreamErr:
		s.noteUpstreamFailure(ev.component, ev.err)
	case evDisconnect:
		log.Printf("[session] disconnect id=%s", s.id)
		s.teardown("disconnect")
	case evShutdown:
		s.teardown(ev.text)
	}
}

// ---------------------------------------------------------------------------
// Audio and transcripts

func (s *Session) handleAudio(pcm []byte) {
	switch s.state {
	case StateConnecting, StateReadyForHandoff, StateClosed:
		return
	}
	if s.deps.Transcriber != nil {
		s.deps.Transcriber.SendAudio(pcm)
	}

	switch s.seg.Feed(pcm, time.Now()) {
	case stt.SignalSpeechStart:
		if s.state == StateSpeaking || s.state == StateGeneratingReply {
			s.bargeIn()
		}
		if s.state == StateListening {
			s.setState(StateTranscribing)
		}
	case stt.SignalSpeechEnd:
		if s.state == StateTranscribing && s.deps.Transcriber != nil {
			s.deps.Transcriber.Drain()
		}
	}
}

// bargeIn cancels the in-flight reply: synthesis stops, undelivered
// policy tokens are dropped, and the partial assistant turn is
// discarded. Bumping the generation before anything else guarantees no
// audio from the cancelled reply reaches the client afterwards.
func (s *Session) bargeIn() {
	metricBargeIns.Inc()
	log.Printf("[session] barge-in id=%s state=%s", s.id, s.state)
	s.cancelReply()
	s.setState(StateTranscribing)
}

func (s *Session) cancelReply() {
	s.replyGen++
	if s.replyCancel != nil {
		s.replyCancel()
		s.replyCancel = nil
	}
	// Only the loop sends into speakQ, so closing here is race-free.
	// Without the close the speaker would block on the drained queue
	// forever.
	if s.speakQ != nil {
		close(s.speakQ)
		s.speakQ = nil
	}
	s.sentences = tts.SentenceBuffer{}
	s.replyAttempt = 0
}

func (s *Session) handleTextInput(text string) {
	if text == "" {
		return
	}
	if s.state == StateSpeaking || s.state == StateGeneratingReply {
		s.bargeIn()
	}
	s.handleFinal(text)
}

func (s *Session) handleSTT(e stt.Event) {
	switch e.Kind {
	case stt.EventPartial:
		s.send(protocol.TypeTranscriptPartial, protocol.TextPayload{Text: e.Text})
	case stt.EventFinal:
		s.handleFinal(e.Text)
	case stt.EventError:
		s.noteUpstreamFailure("transcription", &UpstreamError{Component: "transcription", Err: errText(e.Text)})
	}
}

func (s *Session) handleFinal(text string) {
	s.send(protocol.TypeTranscriptFinal, protocol.TextPayload{Text: text})
	if s.state == StateReadyForHandoff || s.state == StateClosed {
		// Intake is over; the echo above keeps the UI coherent.
		return
	}

	updated := fields.ExtractWithHint(s.fieldMap, text, s.askingHint)
	if mapsDiffer(s.fieldMap, updated) {
		s.fieldMap = updated
		metricFieldUpdates.Inc()
		s.send(protocol.TypeStructuredDataUpdate, s.fieldMap.Snapshot())
	}

	// A final landing while a reply is active means the user kept
	// talking; the newer utterance wins.
	if s.replyCancel != nil {
		s.cancelReply()
	}
	s.replyUser = text
	s.startReply(1)
}

// ---------------------------------------------------------------------------
// Reply lifecycle

func (s *Session) handleReplyToken(gen int, text string) {
	if gen != s.replyGen {
		return
	}
	s.send(protocol.TypeAITextDelta, protocol.TextPayload{Text: text})
	for _, sent := range s.sentences.Add(text) {
		s.enqueueSentence(sent)
	}
	if s.state == StateGeneratingReply {
		s.setState(StateSpeaking)
		s.seg.Arm(time.Now())
	}
}

func (s *Session) handleReplyDone(gen int, fullText string, rstate readiness.ReplyState) {
	if gen != s.replyGen {
		return
	}
	if rem := s.sentences.Flush(); rem != "" {
		s.enqueueSentence(rem)
	}
	if s.speakQ != nil {
		close(s.speakQ)
		s.speakQ = nil
	}
	s.replyAttempt = 0
	s.upstreamFails = 0

	s.appendTurn(Turn{UserText: s.replyUser, AssistantText: fullText, Timestamp: time.Now().UTC()})
	s.replyUser = ""
	s.askingHint = rstate.Asking

	dec := s.eval.Evaluate(s.fieldMap, fullText, rstate)
	if dec.Handoff {
		s.startHandoff()
	}
}

func (s *Session) handleReplyErr(gen int, err error) {
	if gen != s.replyGen {
		return
	}
	log.Printf("[session] reply error id=%s attempt=%d: %v", s.id, s.replyAttempt, err)
	attempt := s.replyAttempt
	s.cancelReply()

	if attempt <= 1 {
		// One automatic retry with backoff.
		gen := s.replyGen
		go func() {
			select {
			case <-time.After(s.cfg.RetryBackoff):
				s.push(event{kind: evRetryReply, gen: gen})
			case <-s.ctx.Done():
			}
		}()
		return
	}
	s.noteUpstreamFailure("dialogue", err)
	if s.state == StateClosed {
		return
	}
	// Session survives: apologize out loud and keep listening.
	s.speakAssistant(s.replyUser, "Sorry, I'm having trouble right now. Could you say that again?")
	s.replyUser = ""
}

func (s *Session) handleRetryReply(gen int) {
	if gen != s.replyGen || s.replyUser == "" {
		return
	}
	if s.state == StateClosed || s.state == StateReadyForHandoff {
		return
	}
	s.startReply(2)
}

// ---------------------------------------------------------------------------
// Synthesis output

func (s *Session) handleSynthAudio(gen int, pcm []byte) {
	if gen != s.replyGen {
		return
	}
	s.send(protocol.TypeAIAudioChunk, protocol.AudioPayload{Audio: base64.StdEncoding.EncodeToString(pcm)})
}

func (s *Session) handleSynthDone(gen int) {
	if gen != s.replyGen {
		return
	}
	if s.replyCancel != nil {
		s.replyCancel()
		s.replyCancel = nil
	}
	if s.state == StateSpeaking || s.state == StateGeneratingReply {
		s.setState(StateListening)
	}
}

func (s *Session) handleSynthErr(gen int, err error) {
	if gen != s.replyGen {
		return
	}
	s.noteUpstreamFailure("synthesis", err)
	if s.state == StateClosed {
		return
	}
	s.cancelReply()
	// Voice is down, so the apology stays text-only; routing it through
	// the synthesizer would just fail again.
	apology := "Sorry, I'm having trouble speaking right now. You can keep talking or type instead."
	s.send(protocol.TypeAITextDelta, protocol.TextPayload{Text: apology})
	s.appendTurn(Turn{AssistantText: apology, Timestamp: time.Now().UTC()})
	if s.state == StateSpeaking || s.state == StateGeneratingReply {
		s.setState(StateListening)
	}
}

// ---------------------------------------------------------------------------
// Handoff

func (s *Session) handleHandoffResult(appID string, err error) {
	if err != nil {
		log.Printf("[session] handoff failed id=%s: %v", s.id, err)
		s.send(protocol.TypeError, protocol.ErrorPayload{Component: "handoff", Message: "could not submit your application"})
		// Fields stay intact; tell the user conversationally.
		s.speakAssistant("", "I couldn't submit your application just now. Your details are saved, please try again shortly.")
		return
	}
	s.linkedAppID = appID
	metricHandoffs.Inc()
	s.send(protocol.TypeReadyForHandoff, protocol.HandoffPayload{
		SessionID:     s.id,
		ApplicationID: appID,
		Fields:        s.fieldMap.Snapshot(),
	})
	s.setState(StateReadyForHandoff)
	if s.deps.Registry != nil {
		s.deps.Registry.Publish(registry.Notice{
			SessionID: s.id,
			Type:      "handoff",
			Payload:   map[string]any{"application_id": appID},
		})
	}
}

// ---------------------------------------------------------------------------
// Failure accounting and teardown

func (s *Session) noteUpstreamFailure(component string, err error) {
	s.upstreamFails++
	metricUpstreamFails.WithLabelValues(component).Inc()
	log.Printf("[session] upstream failure id=%s component=%s count=%d: %v",
		s.id, component, s.upstreamFails, err)
	if s.upstreamFails >= s.cfg.MaxUpstreamFails {
		s.send(protocol.TypeError, protocol.ErrorPayload{Component: component, Message: "service unavailable, closing session"})
		s.teardown("upstream_failures")
	}
}

func (s *Session) teardown(reason string) {
	if s.state == StateClosed {
		return
	}
	log.Printf("[session] closing id=%s reason=%s turns=%d", s.id, reason, len(s.turns))
	s.cancelReply()
	s.setState(StateClosed)
	s.cancel()
}

// ---------------------------------------------------------------------------
// Helpers

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	metricStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.state = to
}

func (s *Session) appendTurn(t Turn) {
	s.turns = append(s.turns, t)
	metricTurns.Inc()
	entry := convlog.Entry{
		SessionID:     s.id,
		UserText:      t.UserText,
		AssistantText: t.AssistantText,
		Fields:        s.fieldMap.Snapshot(),
		Timestamp:     t.Timestamp,
	}
	go s.deps.Logger.Record(s.ctx, entry)
}

func (s *Session) send(typ string, v any) {
	if s.deps.Send == nil {
		return
	}
	if err := s.deps.Send(protocol.Marshal(typ, v)); err != nil {
		// Transport gone: nothing to apologize to.
		s.teardown("transport")
	}
}

func mapsDiffer(a, b fields.Map) bool {
	if len(a) != len(b) {
		return true
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va.Text != vb.Text || va.Number != vb.Number || va.Source != vb.Source {
			return true
		}
	}
	return false
}

type textError string

func (e textError) Error() string { return string(e) }

func errText(s string) error { return textError(s) }
