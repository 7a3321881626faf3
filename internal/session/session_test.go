package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"loanvoice/agent/internal/convlog"
	"loanvoice/agent/internal/dialogue"
	"loanvoice/agent/internal/fields"
	"loanvoice/agent/internal/handoff"
	"loanvoice/agent/internal/protocol"
	"loanvoice/agent/internal/readiness"
	"loanvoice/agent/internal/stt"
	"loanvoice/agent/internal/tts"
)

// ---------------------------------------------------------------------------
// Fakes

type fakeTranscriber struct {
	mu        sync.Mutex
	events    chan stt.Event
	audio     int
	drains    int
	closeOnce sync.Once
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{events: make(chan stt.Event, 16)}
}

func (f *fakeTranscriber) SendAudio(pcm []byte) bool {
	f.mu.Lock()
	f.audio++
	f.mu.Unlock()
	return true
}

func (f *fakeTranscriber) Drain() {
	f.mu.Lock()
	f.drains++
	f.mu.Unlock()
}

func (f *fakeTranscriber) Reset()                       {}
func (f *fakeTranscriber) Events() <-chan stt.Event     { return f.events }
func (f *fakeTranscriber) Close()                       { f.closeOnce.Do(func() { close(f.events) }) }
func (f *fakeTranscriber) drained() int                 { f.mu.Lock(); defer f.mu.Unlock(); return f.drains }
func (f *fakeTranscriber) audioFrames() int             { f.mu.Lock(); defer f.mu.Unlock(); return f.audio }
func (f *fakeTranscriber) emitFinal(text string)        { f.events <- stt.Event{Kind: stt.EventFinal, Text: text} }

type scriptedReply struct {
	tokens []string
	state  readiness.ReplyState
	err    error
	block  bool // stream tokens forever until ctx cancels
}

type fakePolicy struct {
	mu      sync.Mutex
	script  []scriptedReply
	calls   int
	cancels int
}

func (f *fakePolicy) Stream(ctx context.Context, req dialogue.Request) (<-chan dialogue.Event, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	var r scriptedReply
	if idx < len(f.script) {
		r = f.script[idx]
	} else {
		r = scriptedReply{tokens: []string{"Anything else? "}}
	}
	f.mu.Unlock()

	ch := make(chan dialogue.Event, 16)
	go func() {
		defer close(ch)
		if r.err != nil {
			ch <- dialogue.Event{Kind: dialogue.EventError, Err: r.err}
			return
		}
		var full string
		for _, tok := range r.tokens {
			select {
			case <-ctx.Done():
				f.mu.Lock()
				f.cancels++
				f.mu.Unlock()
				return
			case ch <- dialogue.Event{Kind: dialogue.EventToken, Text: tok}:
				full += tok
			}
		}
		if r.block {
			<-ctx.Done()
			f.mu.Lock()
			f.cancels++
			f.mu.Unlock()
			return
		}
		ch <- dialogue.Event{Kind: dialogue.EventDone, Text: full, State: r.state}
	}()
	return ch, nil
}

func (f *fakePolicy) callCount() int   { f.mu.Lock(); defer f.mu.Unlock(); return f.calls }
func (f *fakePolicy) cancelCount() int { f.mu.Lock(); defer f.mu.Unlock(); return f.cancels }

type fakeSynth struct{}

func (fakeSynth) Speak(ctx context.Context, sentence string) (<-chan []byte, error) {
	ch := make(chan []byte, 2)
	ch <- make([]byte, 640)
	close(ch)
	return ch, nil
}

// slowSynth streams frames on an interval until the context is
// cancelled, like a real synthesizer delivering audio over time. It
// never finishes a sentence on its own.
type slowSynth struct{ interval time.Duration }

func (s slowSynth) Speak(ctx context.Context, sentence string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
			select {
			case <-ctx.Done():
				return
			case ch <- make([]byte, 640):
			}
		}
	}()
	return ch, nil
}

type failingSynth struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSynth) Speak(ctx context.Context, sentence string) (<-chan []byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("tts unavailable")
}

func (f *failingSynth) callCount() int { f.mu.Lock(); defer f.mu.Unlock(); return f.calls }

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, p handoff.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "app-77", nil
}

func (f *fakeSubmitter) callCount() int { f.mu.Lock(); defer f.mu.Unlock(); return f.calls }

// wire collects every frame the session sends.
type wire struct {
	mu     sync.Mutex
	frames []protocol.Envelope
}

func (w *wire) send(msg []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	w.mu.Lock()
	w.frames = append(w.frames, env)
	w.mu.Unlock()
	return nil
}

func (w *wire) count(typ string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, f := range w.frames {
		if f.Type == typ {
			n++
		}
	}
	return n
}

func (w *wire) lastData(typ string) json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out json.RawMessage
	for _, f := range w.frames {
		if f.Type == typ {
			out = f.Data
		}
	}
	return out
}

// types returns every frame type in send order.
func (w *wire) types() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.frames))
	for i, f := range w.frames {
		out[i] = f.Type
	}
	return out
}

func (w *wire) spokenText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out string
	for _, f := range w.frames {
		if f.Type == protocol.TypeAITextDelta {
			var p protocol.TextPayload
			_ = json.Unmarshal(f.Data, &p)
			out += p.Text
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	sess   *Session
	w      *wire
	trans  *fakeTranscriber
	policy *fakePolicy
	sub    *fakeSubmitter
	log    *convlog.Memory
}

func newHarness(t *testing.T, cfg Config, policy *fakePolicy) *harness {
	t.Helper()
	return newHarnessSynth(t, cfg, policy, fakeSynth{})
}

func newHarnessSynth(t *testing.T, cfg Config, policy *fakePolicy, synth tts.Synthesizer) *harness {
	t.Helper()
	w := &wire{}
	trans := newFakeTranscriber()
	sub := &fakeSubmitter{}
	mem := convlog.NewMemory()
	sess := New("test-session", cfg, Deps{
		Transcriber: trans,
		Policy:      policy,
		Synth:       synth,
		Dispatcher:  handoff.NewDispatcher(sub),
		Logger:      mem,
		Send:        w.send,
	})
	go sess.Run()
	t.Cleanup(func() {
		sess.Shutdown("test_done")
		select {
		case <-sess.Done():
		case <-time.After(3 * time.Second):
			t.Error("session did not shut down")
		}
	})
	return &harness{sess: sess, w: w, trans: trans, policy: policy, sub: sub, log: mem}
}

// turns reports how many completed turns the logger has recorded; a
// turn lands only after the reply text finishes.
func (h *harness) turns() int { return len(h.log.List("test-session")) }

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Greeting = "" // most tests skip the greeting for brevity
	cfg.RetryBackoff = 5 * time.Millisecond
	return cfg
}

// ---------------------------------------------------------------------------
// Tests

func TestGreetingSpokenOnStart(t *testing.T) {
	cfg := quietConfig()
	cfg.Greeting = "Hello there. What's your full name?"
	h := newHarness(t, cfg, &fakePolicy{})

	waitFor(t, "greeting text", func() bool {
		return h.w.spokenText() == "Hello there. What's your full name?"
	})
	waitFor(t, "greeting audio", func() bool {
		return h.w.count(protocol.TypeAIAudioChunk) >= 2
	})
}

func TestTextInputProducesExtractionAndReply(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"Nice to meet you Asha. ", "What is your monthly income?"},
			state: readiness.ReplyState{Asking: fields.MonthlyIncome}},
	}}
	h := newHarness(t, quietConfig(), policy)

	h.sess.OnTextInput("My name is Asha Rao")

	waitFor(t, "transcript echo", func() bool {
		return h.w.count(protocol.TypeTranscriptFinal) == 1
	})
	waitFor(t, "field update", func() bool {
		data := h.w.lastData(protocol.TypeStructuredDataUpdate)
		if data == nil {
			return false
		}
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		return m["full_name"] == "Asha Rao"
	})
	waitFor(t, "reply text", func() bool {
		return h.w.spokenText() == "Nice to meet you Asha. What is your monthly income?"
	})
	waitFor(t, "reply audio", func() bool {
		return h.w.count(protocol.TypeAIAudioChunk) >= 1
	})
}

func TestSTTFinalDrivesSameFlowAsText(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"Got it. "}, state: readiness.ReplyState{Asking: fields.CreditScore}},
	}}
	h := newHarness(t, quietConfig(), policy)

	h.trans.emitFinal("my monthly income is 80000")

	waitFor(t, "field update", func() bool {
		data := h.w.lastData(protocol.TypeStructuredDataUpdate)
		if data == nil {
			return false
		}
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		return m["monthly_income"] == float64(80000)
	})
	waitFor(t, "reply", func() bool { return h.policy.callCount() == 1 })
}

func TestAudioForwardedAndDrainOnSpeechEnd(t *testing.T) {
	cfg := quietConfig()
	cfg.Segmenter = stt.SegmenterConfig{MinRMS: 500, MinStart: 1, Hangover: 1, GuardMs: 0}
	h := newHarness(t, cfg, &fakePolicy{})

	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0xE8
		loud[i+1] = 0x03 // 1000
	}
	quiet := make([]byte, 320)

	h.sess.OnAudioChunk(loud)  // speech start
	h.sess.OnAudioChunk(quiet) // speech end -> Drain

	waitFor(t, "audio forwarded", func() bool { return h.trans.audioFrames() == 2 })
	waitFor(t, "drain", func() bool { return h.trans.drained() == 1 })
}

func TestHintedBareAnswerUsesAskedField(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"What is your credit score?"},
			state: readiness.ReplyState{Asking: fields.CreditScore}},
		{tokens: []string{"Thanks!"}},
	}}
	h := newHarness(t, quietConfig(), policy)

	h.sess.OnTextInput("hello there")
	waitFor(t, "first turn recorded", func() bool { return h.turns() == 1 })

	h.sess.OnTextInput("720")
	waitFor(t, "hinted extraction", func() bool {
		data := h.w.lastData(protocol.TypeStructuredDataUpdate)
		if data == nil {
			return false
		}
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		return m["credit_score"] == float64(720)
	})
}

func TestBargeInCancelsInFlightReply(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"Let me think about that. "}, block: true},
		{tokens: []string{"Sure, tell me more."}},
	}}
	h := newHarness(t, quietConfig(), policy)

	h.sess.OnTextInput("first question")
	waitFor(t, "first reply streaming", func() bool {
		return h.w.count(protocol.TypeAITextDelta) >= 1
	})

	// User talks over the reply.
	h.sess.OnTextInput("wait, actually")

	waitFor(t, "first stream cancelled", func() bool { return h.policy.cancelCount() == 1 })
	waitFor(t, "second reply", func() bool {
		return h.w.spokenText() == "Let me think about that. Sure, tell me more."
	})
	if got := h.policy.callCount(); got != 2 {
		t.Errorf("policy calls = %d, want 2", got)
	}
}

func TestBargeInStopsStaleAudio(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"Here is a long answer. "}, block: true},
		{}, // interruption gets a silent reply, so any later audio is stale
	}}
	h := newHarnessSynth(t, quietConfig(), policy, slowSynth{interval: 2 * time.Millisecond})

	h.sess.OnTextInput("first question")
	waitFor(t, "audio streaming", func() bool {
		return h.w.count(protocol.TypeAIAudioChunk) >= 3
	})

	// User talks over the audio mid-stream.
	h.sess.OnTextInput("wait, one more thing")
	waitFor(t, "second reply settled", func() bool {
		return h.policy.callCount() == 2 && h.w.count(protocol.TypeTranscriptFinal) == 2
	})
	// Give any straggling frames from the cancelled reply time to land.
	time.Sleep(50 * time.Millisecond)

	types := h.w.types()
	lastFinal := -1
	for i, typ := range types {
		if typ == protocol.TypeTranscriptFinal {
			lastFinal = i
		}
	}
	for _, typ := range types[lastFinal+1:] {
		if typ == protocol.TypeAIAudioChunk {
			t.Fatal("audio from the interrupted reply reached the client after the interruption")
		}
	}
}

func TestInterruptionReleasesReplyWorkers(t *testing.T) {
	script := make([]scriptedReply, 5)
	for i := range script {
		script[i] = scriptedReply{tokens: []string{"Thinking it over. "}, block: true}
	}
	policy := &fakePolicy{script: script}
	h := newHarness(t, quietConfig(), policy)

	h.sess.OnTextInput("question 0")
	waitFor(t, "first reply audio", func() bool {
		return h.w.count(protocol.TypeAIAudioChunk) >= 1
	})
	base := runtime.NumGoroutine()

	for i := 1; i <= 4; i++ {
		h.sess.OnTextInput(fmt.Sprintf("question %d", i))
		n := i + 1
		waitFor(t, "next reply streaming", func() bool {
			return h.policy.callCount() == n && h.w.count(protocol.TypeAIAudioChunk) >= n
		})
	}

	// Each interruption must fully release the cancelled reply's
	// goroutines; only the live reply's workers may remain.
	waitFor(t, "workers released", func() bool {
		return runtime.NumGoroutine() <= base+1
	})
}

func TestSynthFailureRetriesThenApologizesInText(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"Welcome aboard. "}},
	}}
	synth := &failingSynth{}
	h := newHarnessSynth(t, quietConfig(), policy, synth)

	h.sess.OnTextInput("hello")

	// The failed sentence is retried once before giving up.
	waitFor(t, "synth retry", func() bool { return synth.callCount() == 2 })
	waitFor(t, "conversational apology", func() bool {
		return strings.Contains(h.w.spokenText(), "trouble speaking") && h.turns() >= 1
	})
	if h.w.count(protocol.TypeError) != 0 {
		t.Error("a synthesizer failure must not surface as a protocol error frame")
	}
	select {
	case <-h.sess.Done():
		t.Fatal("session should stay open after a synthesizer failure")
	default:
	}
}

func TestHandoffFiresOnceWithAllFields(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"All collected, submitting now. "},
			state: readiness.ReplyState{Complete: true}},
		{tokens: []string{"We are all done here."}},
	}}
	h := newHarness(t, quietConfig(), policy)

	h.sess.OnTextInput("My name is Asha Rao, I earn 80000, credit score 750, " +
		"loan of 5 lakh for home renovation, I'm salaried, no existing EMIs")

	waitFor(t, "handoff frame", func() bool {
		return h.w.count(protocol.TypeReadyForHandoff) == 1
	})

	var p protocol.HandoffPayload
	if err := json.Unmarshal(h.w.lastData(protocol.TypeReadyForHandoff), &p); err != nil {
		t.Fatalf("handoff payload: %v", err)
	}
	if p.ApplicationID != "app-77" {
		t.Errorf("application id = %q", p.ApplicationID)
	}
	for _, f := range fields.Required {
		if _, ok := p.Fields[string(f)]; !ok {
			t.Errorf("handoff payload missing %s", f)
		}
	}
	if p.Fields["existing_emi"] != float64(0) {
		t.Errorf("existing_emi = %v, want 0", p.Fields["existing_emi"])
	}

	// Later finals must not dispatch again.
	h.sess.OnTextInput("thank you so much")
	waitFor(t, "post-handoff echo", func() bool {
		return h.w.count(protocol.TypeTranscriptFinal) == 2
	})
	if got := h.sub.callCount(); got != 1 {
		t.Errorf("submitter calls = %d, want exactly 1", got)
	}
}

func TestNoHandoffWhileFieldsMissing(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"And your credit score?"},
			state: readiness.ReplyState{Asking: fields.CreditScore}},
	}}
	h := newHarness(t, quietConfig(), policy)

	h.sess.OnTextInput("My name is Asha Rao and I earn 80000")
	waitFor(t, "reply done", func() bool {
		return h.w.spokenText() == "And your credit score?"
	})
	time.Sleep(50 * time.Millisecond)
	if h.sub.callCount() != 0 {
		t.Error("handoff dispatched with missing fields")
	}
	if h.w.count(protocol.TypeReadyForHandoff) != 0 {
		t.Error("ready_for_handoff sent with missing fields")
	}
}

func TestReplyErrorRetriesOnce(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{err: errors.New("upstream hiccup")},
		{tokens: []string{"Sorry, what was that?"}},
	}}
	h := newHarness(t, quietConfig(), policy)

	h.sess.OnTextInput("my name is Asha Rao")
	waitFor(t, "retried reply", func() bool {
		return h.w.spokenText() == "Sorry, what was that?"
	})
	if got := h.policy.callCount(); got != 2 {
		t.Errorf("policy calls = %d, want 2", got)
	}
}

func TestRepeatedFailuresCloseSession(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{err: errors.New("down")},
		{err: errors.New("still down")},
	}}
	cfg := quietConfig()
	cfg.MaxUpstreamFails = 1
	h := newHarness(t, cfg, policy)

	h.sess.OnTextInput("hello")

	select {
	case <-h.sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session should close after exhausting retries")
	}
	if h.w.count(protocol.TypeError) == 0 {
		t.Error("expected an error frame before closing")
	}
}

func TestHandoffFailureKeepsFieldsAndSpeaks(t *testing.T) {
	policy := &fakePolicy{script: []scriptedReply{
		{tokens: []string{"Submitting. "}, state: readiness.ReplyState{Complete: true}},
	}}
	h := newHarness(t, quietConfig(), policy)
	h.sub.err = fmt.Errorf("application service down")

	h.sess.OnTextInput("My name is Asha Rao, I earn 80000, credit score 750, " +
		"loan of 5 lakh for home renovation, I'm salaried, no existing EMIs")

	waitFor(t, "handoff error frame", func() bool {
		return h.w.count(protocol.TypeError) >= 1
	})
	if h.w.count(protocol.TypeReadyForHandoff) != 0 {
		t.Error("ready_for_handoff must not be sent on dispatch failure")
	}
	waitFor(t, "spoken apology", func() bool {
		return h.w.count(protocol.TypeAITextDelta) >= 2
	})
}

func TestTransportReportedFailuresCount(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxUpstreamFails = 2
	h := newHarness(t, cfg, &fakePolicy{})

	h.sess.OnUpstreamError("transcription", errors.New("stt conn refused"))
	time.Sleep(20 * time.Millisecond)
	select {
	case <-h.sess.Done():
		t.Fatal("one failure should not close the session")
	default:
	}

	h.sess.OnUpstreamError("transcription", errors.New("stt conn refused"))
	select {
	case <-h.sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session should close at the failure threshold")
	}
	if h.w.count(protocol.TypeError) == 0 {
		t.Error("expected an error frame before closing")
	}
}

func TestEndSessionShutdown(t *testing.T) {
	h := newHarness(t, quietConfig(), &fakePolicy{})
	h.sess.Shutdown("client_request")
	select {
	case <-h.sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close on shutdown")
	}
}
