// Package dialogue wraps the streaming language-model boundary that
// decides what the assistant says next. Replies stream token by token
// and terminate with a machine-readable state marker naming the field
// the assistant is currently asking for, so downstream readiness checks
// never have to sniff prose.
package dialogue

import (
	"context"

	"loanvoice/agent/internal/readiness"
)

// Message is one conversation entry sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the conversation history plus the current field state.
type Request struct {
	History []Message
	Fields  map[string]any
	Missing []string
}

type EventKind int

const (
	EventToken EventKind = iota
	EventDone
	EventError
)

// Event is one item of a streamed reply. EventDone carries the full
// spoken text and the parsed reply state; the state marker itself is
// never emitted as a token.
type Event struct {
	Kind  EventKind
	Text  string
	State readiness.ReplyState
	Err   error
}

// Policy is the adapter contract. At most one Stream call may be in
// flight per session; the caller enforces that.
type Policy interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
