// Package api exposes the HTTP surface: the voice websocket, health
// and metrics endpoints, and read-only session inspection.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"

	"loanvoice/agent/internal/auth"
	"loanvoice/agent/internal/config"
	"loanvoice/agent/internal/convlog"
	"loanvoice/agent/internal/protocol"
	"loanvoice/agent/internal/registry"
	"loanvoice/agent/internal/session"
)

// SessionFactory builds a fully wired session for one connection. The
// transport hands it the outbound frame writer.
type SessionFactory func(id string, send session.Sender) *session.Session

type Handlers struct {
	cfg        config.Config
	reg        *registry.Registry
	newSession SessionFactory
	replay     *convlog.Memory // nil unless the in-memory logger is active
}

func NewHandlers(cfg config.Config, reg *registry.Registry, f SessionFactory, replay *convlog.Memory) *Handlers {
	return &Handlers{cfg: cfg, reg: reg, newSession: f, replay: replay}
}

const writeTimeout = 5 * time.Second

// HandleVoiceStream upgrades to a websocket and runs one session over
// it: inbound binary frames are audio, inbound text frames are control
// messages, and every outbound frame is a JSON envelope.
func (h *Handlers) HandleVoiceStream(w http.ResponseWriter, r *http.Request) {
	tokenSID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	c, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		log.Printf("[api] ws accept: %v", err)
		return
	}
	c.SetReadLimit(1 << 20)

	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = tokenSID
	}
	if id == "" {
		id = uuid.New().String()
	}

	send := func(msg []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return c.Write(ctx, ws.MessageText, msg)
	}

	sess := h.newSession(id, send)
	if h.reg.Add(sess) {
		log.Printf("[api] replaced existing session id=%s", id)
	}
	go sess.Run()
	log.Printf("[api] session started id=%s remote=%s", id, r.RemoteAddr)

	// A session ended from elsewhere (admin endpoint, replacement on
	// reconnect) must also release this read loop.
	go func() {
		<-sess.Done()
		_ = c.Close(ws.StatusNormalClosure, "session closed")
	}()

	readCtx := r.Context()
	for {
		typ, data, err := c.Read(readCtx)
		if err != nil {
			sess.OnDisconnect()
			break
		}
		switch typ {
		case ws.MessageBinary:
			sess.OnAudioChunk(data)
		case ws.MessageText:
			h.handleControl(sess, data)
		}
	}

	<-sess.Done()
	_ = c.Close(ws.StatusNormalClosure, "session closed")
}

func (h *Handlers) handleControl(sess *session.Session, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[api] bad control frame session=%s: %v", sess.ID(), err)
		return
	}
	switch env.Type {
	case protocol.TypeTextInput:
		var p protocol.TextPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Text == "" {
			return
		}
		sess.OnTextInput(p.Text)
	case protocol.TypeEndSession:
		sess.Shutdown("client_request")
	default:
		log.Printf("[api] unknown control type %q session=%s", env.Type, sess.ID())
	}
}

// authorize validates the stream token when a secret is configured.
// Browsers can't set websocket headers, so the token rides the query
// string. Returns the session id embedded in the token, if any.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.cfg.Auth.TokenSecret == "" {
		return "", true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return "", false
	}
	sid, err := auth.ValidateSessionToken(
		h.cfg.Auth.TokenSecret, token, r.URL.Query().Get("session_id"),
		time.Now(), h.cfg.Auth.TokenSkewSec)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", false
	}
	return sid, true
}

// HandleMintToken issues a stream token for a new session id.
func (h *Handlers) HandleMintToken(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Auth.TokenSecret == "" {
		http.Error(w, "auth not configured", http.StatusNotImplemented)
		return
	}
	id := uuid.New().String()
	exp := time.Now().Add(time.Duration(h.cfg.Auth.TokenTTLMin) * time.Minute).Unix()
	tok := auth.GenerateSessionToken(h.cfg.Auth.TokenSecret, id, exp)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": id,
		"token":      tok,
		"expires_at": exp,
	})
}

// HandleSessionTranscript returns the recorded turn log for a session.
// Only available with the in-memory conversation logger.
func (h *Handlers) HandleSessionTranscript(w http.ResponseWriter, r *http.Request, id string) {
	if h.replay == nil {
		http.Error(w, "transcript store not enabled", http.StatusNotImplemented)
		return
	}
	entries := h.replay.List(id)
	if len(entries) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": id,
		"turns":      entries,
	})
}

// HandleSessionEnd force-closes a running session.
func (h *Handlers) HandleSessionEnd(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.reg.Get(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	sess.Shutdown("api_request")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// HandleStats reports the live session count.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"active_sessions": h.reg.Len()})
}
