// Package registry tracks live sessions process-wide. It exists only
// for lookup and cleanup — conversational state stays inside each
// session — plus a session-scoped publish/subscribe fan-out for
// observers (manager dashboards, analytics) that want lifecycle events
// without reaching into session internals.
package registry

import "sync"

// Handle is what the registry holds per session.
type Handle interface {
	ID() string
	Shutdown(reason string)
}

// Notice is one lifecycle event published for a session.
type Notice struct {
	SessionID string
	Type      string
	Payload   map[string]any
}

type Registry struct {
	mu   sync.Mutex
	sess map[string]Handle
	subs map[string][]chan Notice
}

func New() *Registry {
	return &Registry{
		sess: make(map[string]Handle),
		subs: make(map[string][]chan Notice),
	}
}

// Add registers a session, shutting down any previous one under the
// same id (a reconnect replaces the stale connection).
func (r *Registry) Add(h Handle) (replaced bool) {
	r.mu.Lock()
	old := r.sess[h.ID()]
	r.sess[h.ID()] = h
	r.mu.Unlock()
	if old != nil {
		old.Shutdown("replaced")
		return true
	}
	return false
}

func (r *Registry) Get(id string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess[id]
}

// Remove drops the session and closes its subscriber channels. A stale
// handle (one already replaced by a reconnect under the same id) is
// ignored so the old session's exit cannot evict its replacement.
func (r *Registry) Remove(h Handle) {
	id := h.ID()
	r.mu.Lock()
	if r.sess[id] != h {
		r.mu.Unlock()
		return
	}
	delete(r.sess, id)
	subs := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// ShutdownAll asks every live session to close. Used on server drain;
// each session removes itself as its loop exits.
func (r *Registry) ShutdownAll(reason string) {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.sess))
	for _, h := range r.sess {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.Shutdown(reason)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sess)
}

// Subscribe returns a channel of notices for one session. The channel
// closes when the session is removed; cancel drops it earlier.
func (r *Registry) Subscribe(id string) (<-chan Notice, func()) {
	ch := make(chan Notice, 16)
	r.mu.Lock()
	r.subs[id] = append(r.subs[id], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		subs := r.subs[id]
		for i, c := range subs {
			if c == ch {
				r.subs[id] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans a notice out to the session's subscribers, dropping on
// slow consumers rather than blocking the session loop.
func (r *Registry) Publish(n Notice) {
	r.mu.Lock()
	subs := append([]chan Notice(nil), r.subs[n.SessionID]...)
	r.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- n:
		default:
		}
	}
}
