package session

import (
	"context"
	"time"

	"loanvoice/agent/internal/dialogue"
	"loanvoice/agent/internal/fields"
	"loanvoice/agent/internal/handoff"
	"loanvoice/agent/internal/protocol"
	"loanvoice/agent/internal/tts"
)

// startReply kicks off a new generation: a policy stream goroutine
// feeding tokens and a speaker goroutine synthesizing sentences. Both
// tag every event with the generation they were started under.
func (s *Session) startReply(attempt int) {
	s.replyGen++
	gen := s.replyGen
	s.replyAttempt = attempt

	ctx, cancel := context.WithCancel(s.ctx)
	s.replyCancel = cancel
	s.sentences = tts.SentenceBuffer{}
	s.speakQ = make(chan string, 64)
	s.setState(StateGeneratingReply)

	go s.speaker(ctx, gen, s.speakQ)

	req := dialogue.Request{
		History: s.historyWith(s.replyUser),
		Fields:  s.fieldMap.Snapshot(),
		Missing: fieldNames(s.fieldMap.Missing()),
	}
	go func() {
		ch, err := s.deps.Policy.Stream(ctx, req)
		if err != nil {
			s.push(event{kind: evReplyErr, gen: gen, err: err})
			return
		}
		for ev := range ch {
			switch ev.Kind {
			case dialogue.EventToken:
				s.push(event{kind: evReplyToken, gen: gen, text: ev.Text})
			case dialogue.EventDone:
				s.push(event{kind: evReplyDone, gen: gen, text: ev.Text, state: ev.State})
			case dialogue.EventError:
				s.push(event{kind: evReplyErr, gen: gen, err: ev.Err})
			}
		}
	}()
}

// speakAssistant plays a fixed utterance (greeting, apology) without
// consulting the policy. The turn is recorded immediately since the
// text is already complete.
func (s *Session) speakAssistant(userText, text string) {
	if s.replyCancel != nil {
		s.replyCancel()
	}
	s.replyGen++
	gen := s.replyGen

	ctx, cancel := context.WithCancel(s.ctx)
	s.replyCancel = cancel
	s.speakQ = nil // loop does not feed this one
	s.setState(StateSpeaking)
	s.seg.Arm(time.Now())

	s.send(protocol.TypeAITextDelta, protocol.TextPayload{Text: text})
	s.appendTurn(Turn{UserText: userText, AssistantText: text, Timestamp: time.Now().UTC()})

	var buf tts.SentenceBuffer
	sents := buf.Add(text)
	if rem := buf.Flush(); rem != "" {
		sents = append(sents, rem)
	}
	// Sized to the full utterance so the loop never blocks feeding it.
	q := make(chan string, len(sents))
	for _, sent := range sents {
		q <- sent
	}
	close(q)
	go s.speaker(ctx, gen, q)
}

// speaker synthesizes queued sentences in order and forwards audio
// frames into the loop. It always emits a terminal evSynthDone, even
// after an error, so the loop can settle the state machine.
func (s *Session) speaker(ctx context.Context, gen int, q <-chan string) {
	defer s.push(event{kind: evSynthDone, gen: gen})
	for sent := range q {
		frames, err := s.deps.Synth.Speak(ctx, sent)
		if err != nil && ctx.Err() == nil {
			// One retry after a short pause; synth hiccups are usually
			// transient.
			select {
			case <-time.After(s.cfg.RetryBackoff):
			case <-ctx.Done():
				return
			}
			frames, err = s.deps.Synth.Speak(ctx, sent)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.push(event{kind: evSynthErr, gen: gen, err: err})
			return
		}
		for pcm := range frames {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.push(event{kind: evSynthAudio, gen: gen, audio: pcm})
		}
	}
}

// startHandoff submits the completed application off-loop. At most one
// dispatch runs per session; the readiness evaluator's latch ensures
// this fires once.
func (s *Session) startHandoff() {
	payload := handoff.Payload{
		SessionID: s.id,
		Fields:    s.fieldMap.Snapshot(),
	}
	go func() {
		appID, err := s.deps.Dispatcher.Dispatch(s.ctx, payload)
		s.push(event{kind: evHandoffResult, appID: appID, err: err})
	}()
}

func (s *Session) enqueueSentence(sent string) {
	if s.speakQ == nil {
		return
	}
	select {
	case s.speakQ <- sent:
	default:
		// Queue full; speaker is far behind. Drop rather than stall
		// the loop.
		metricSentenceDrops.Inc()
	}
}

func (s *Session) historyWith(userText string) []dialogue.Message {
	msgs := make([]dialogue.Message, 0, len(s.turns)*2+1)
	for _, t := range s.turns {
		if t.UserText != "" {
			msgs = append(msgs, dialogue.Message{Role: "user", Content: t.UserText})
		}
		if t.AssistantText != "" {
			msgs = append(msgs, dialogue.Message{Role: "assistant", Content: t.AssistantText})
		}
	}
	if userText != "" {
		msgs = append(msgs, dialogue.Message{Role: "user", Content: userText})
	}
	return msgs
}

func fieldNames(fs []fields.Field) []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return names
}
