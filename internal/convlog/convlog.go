// Package convlog records completed conversation turns for audit and
// analytics. Recording is fire-and-forget: a logger failure must never
// affect session behavior, so drivers swallow and count errors instead
// of returning them to the session loop.
package convlog

import (
	"context"
	"sync"
	"time"
)

// Entry is one completed turn with the field snapshot taken after it.
type Entry struct {
	SessionID     string         `json:"session_id"`
	UserText      string         `json:"user_text,omitempty"`
	AssistantText string         `json:"assistant_text"`
	Fields        map[string]any `json:"fields"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Logger is the collaborator interface consumed by sessions.
type Logger interface {
	Record(ctx context.Context, e Entry)
}

// Nop discards everything; used when no logger backend is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

// Memory keeps entries in-process, capped per session. Used in tests
// and single-node dev setups.
type Memory struct {
	mu     sync.RWMutex
	bySess map[string][]Entry
	cap    int
}

func NewMemory() *Memory {
	return &Memory{bySess: make(map[string][]Entry), cap: 200}
}

func (m *Memory) Record(_ context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.bySess[e.SessionID], e)
	if len(entries) > m.cap {
		entries = entries[len(entries)-m.cap:]
	}
	m.bySess[e.SessionID] = entries
}

// List returns a copy of the entries recorded for a session.
func (m *Memory) List(sessionID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.bySess[sessionID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}
