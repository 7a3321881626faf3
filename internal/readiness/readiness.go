// Package readiness decides when a session's collected fields are
// complete enough to hand off to the application service.
package readiness

import (
	"strings"

	"loanvoice/agent/internal/fields"
)

// ReplyState is the machine-readable marker the dialogue policy appends
// to each reply: which field (if any) it is currently asking for, and
// whether it considers the intake complete.
type ReplyState struct {
	Asking   fields.Field `json:"asking,omitempty"`
	Complete bool         `json:"complete,omitempty"`
}

// Decision is the evaluator output for one finished assistant turn.
type Decision struct {
	Handoff bool
	Reason  string
}

// Evaluator runs once after each finalized assistant utterance. It is
// stateful only for the fired latch: handoff triggers at most once.
type Evaluator struct {
	fired bool
}

func New() *Evaluator { return &Evaluator{} }

// Fired reports whether a handoff was already triggered for this session.
func (e *Evaluator) Fired() bool { return e.fired }

// Evaluate inspects the field map and the just-completed assistant
// utterance. Handoff requires every field present and valid AND the
// assistant not mid-question about one of them; the second condition
// guards the race where an extraction lands a zero/sentinel for a field
// that is still actively being asked about.
func (e *Evaluator) Evaluate(m fields.Map, assistantText string, state ReplyState) Decision {
	if e.fired {
		return Decision{Reason: "already_fired"}
	}
	if !m.Complete() {
		return Decision{Reason: "fields_missing"}
	}
	if state.Asking != "" {
		return Decision{Reason: "assistant_asking:" + string(state.Asking)}
	}
	// Fallback for replies without a state marker: a trailing question
	// that names a missing-field topic is treated as still asking.
	if state == (ReplyState{}) && asksForField(assistantText) {
		return Decision{Reason: "assistant_question_heuristic"}
	}
	e.fired = true
	return Decision{Handoff: true, Reason: "complete"}
}

// fieldTopics maps conversational wording back to the field it solicits.
// Only consulted when the policy reply carried no state marker.
var fieldTopics = []string{
	"your name", "monthly income", "credit score", "loan amount",
	"how much", "employment", "purpose of", "emi", "monthly debt",
}

func asksForField(text string) bool {
	t := strings.ToLower(text)
	if !strings.Contains(t, "?") {
		return false
	}
	for _, topic := range fieldTopics {
		if strings.Contains(t, topic) {
			return true
		}
	}
	return false
}
