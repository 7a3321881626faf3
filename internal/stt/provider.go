package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ProviderConfig points the adapter at a Deepgram-style streaming STT
// websocket endpoint.
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Language      string
	SampleRate    int
	EndpointingMs int
	SocketMaxAge  time.Duration
}

// ProviderConn maintains one live websocket to the STT provider for a
// session, sending PCM16@16k audio and receiving transcript events.
// It reconnects with backoff and opens a circuit after repeated failures.
type ProviderConn struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg   ProviderConfig
	wsURL string
	sid   string

	sendQ  chan []byte
	events chan Event
	filter *Filter

	mu          sync.Mutex
	lastPartial string
	lastFinal   string

	fails   []time.Time
	circuit time.Time
}

// NewProviderConn builds the adapter. Call Start before sending audio.
func NewProviderConn(parent context.Context, sessionID string, cfg ProviderConfig) *ProviderConn {
	ctx, cancel := context.WithCancel(parent)
	q := url.Values{}
	q.Set("model", orDefault(cfg.Model, "nova-2"))
	q.Set("language", orDefault(cfg.Language, "en-US"))
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", fmt.Sprintf("%d", nzd(cfg.EndpointingMs, 1000)))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", nzd(cfg.SampleRate, 16000)))
	q.Set("channels", "1")
	base := cfg.BaseURL
	if base == "" {
		base = "wss://api.deepgram.com/v1/listen"
	}
	return &ProviderConn{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		wsURL:  base + "?" + q.Encode(),
		sid:    sessionID,
		sendQ:  make(chan []byte, 8),
		events: make(chan Event, 32),
		filter: NewFilter(),
	}
}

func (p *ProviderConn) Start() { go p.run() }

func (p *ProviderConn) Events() <-chan Event { return p.events }

func (p *ProviderConn) Close() { p.cancel() }

// SendAudio queues a frame; drop-latest under backpressure so a slow
// provider never stalls the session loop.
func (p *ProviderConn) SendAudio(pcm []byte) bool {
	select {
	case p.sendQ <- pcm:
		return true
	default:
		metricFrameDrops.Inc()
		return false
	}
}

// Drain finalizes the current utterance. If the provider has not
// produced a final yet, the last partial is promoted (earliest-final
// policy), so a silence boundary always yields exactly one final.
func (p *ProviderConn) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastFinal == "" && p.lastPartial != "" {
		p.emitFinalLocked(p.lastPartial, "partial_promoted")
	}
	p.lastPartial = ""
	p.lastFinal = ""
}

// Reset discards the buffered partial without promoting it. Called when
// the provider link drops mid-utterance or the session is torn down.
func (p *ProviderConn) Reset() {
	p.mu.Lock()
	p.lastPartial = ""
	p.lastFinal = ""
	p.mu.Unlock()
}

func (p *ProviderConn) run() {
	defer close(p.events)
	for {
		if err := p.connectAndPump(); err != nil {
			p.addFailure()
			p.emit(Event{Kind: EventError, Text: err.Error()})
		} else {
			p.fails = nil
		}
		if p.ctx.Err() != nil {
			return
		}
		time.Sleep(p.nextBackoff())
	}
}

func (p *ProviderConn) connectAndPump() error {
	if time.Now().Before(p.circuit) {
		time.Sleep(500 * time.Millisecond)
		return fmt.Errorf("stt circuit open")
	}

	hdr := make(http.Header)
	if p.cfg.APIKey != "" {
		hdr.Set("Authorization", "Token "+p.cfg.APIKey)
	}
	dctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	ws, _, err := websocket.Dial(dctx, p.wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return fmt.Errorf("stt dial: %w", err)
	}
	log.Printf("[stt] connected session=%s in %dms", p.sid, time.Since(start).Milliseconds())
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
		// A partial buffered at disconnect never becomes a final.
		p.Reset()
	}()

	go func() {
		for {
			select {
			case <-p.ctx.Done():
				return
			case b := <-p.sendQ:
				if b == nil {
					continue
				}
				wctx, wcancel := context.WithTimeout(p.ctx, 5*time.Second)
				err := ws.Write(wctx, websocket.MessageBinary, b)
				wcancel()
				if err != nil {
					return
				}
				metricAudioBytes.Add(float64(len(b)))
			}
		}
	}()

	var rotate <-chan time.Time
	if p.cfg.SocketMaxAge > 0 {
		t := time.NewTimer(p.cfg.SocketMaxAge)
		defer t.Stop()
		rotate = t.C
	}

	for {
		if p.ctx.Err() != nil {
			return nil
		}
		select {
		case <-rotate:
			return fmt.Errorf("rotate")
		default:
		}
		_, data, err := ws.Read(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(data) == 0 {
			continue
		}
		p.handleFrame(data)
	}
}

// handleFrame parses one provider JSON frame into transcript events.
func (p *ProviderConn) handleFrame(data []byte) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	typ := toString(m["type"])
	if strings.EqualFold(typ, "Error") || m["error"] != nil {
		msg := toString(m["error"])
		if msg == "" {
			msg = toString(m["message"])
		}
		if msg == "" {
			msg = "provider_error"
		}
		p.emit(Event{Kind: EventError, Text: msg})
		return
	}
	if !strings.EqualFold(typ, "Results") && m["channel"] == nil {
		return
	}

	text := ""
	if ch, ok := m["channel"].(map[string]any); ok {
		if alts, ok := ch["alternatives"].([]any); ok && len(alts) > 0 {
			if a0, ok := alts[0].(map[string]any); ok {
				text = strings.TrimSpace(toString(a0["transcript"]))
			}
		}
	}
	if text == "" {
		return
	}
	isFinal := toBool(m["is_final"]) || toBool(m["speech_final"])

	p.mu.Lock()
	defer p.mu.Unlock()
	if isFinal {
		p.emitFinalLocked(text, "provider")
	} else {
		p.lastPartial = text
		p.emit(Event{Kind: EventPartial, Text: text})
		metricPartials.Inc()
	}
}

func (p *ProviderConn) emitFinalLocked(text, source string) {
	clean, ok := p.filter.Accept(text)
	if !ok {
		metricFinalsRejected.Inc()
		return
	}
	p.lastFinal = clean
	p.emit(Event{Kind: EventFinal, Text: clean})
	metricFinals.WithLabelValues(source).Inc()
}

func (p *ProviderConn) emit(e Event) {
	select {
	case p.events <- e:
	default:
		// drop if slow consumer
	}
}

func (p *ProviderConn) addFailure() {
	p.fails = append(p.fails, time.Now())
	cutoff := time.Now().Add(-60 * time.Second)
	j := 0
	for _, t := range p.fails {
		if t.After(cutoff) {
			p.fails[j] = t
			j++
		}
	}
	p.fails = p.fails[:j]
	if len(p.fails) >= 3 {
		p.circuit = time.Now().Add(30 * time.Second)
		metricCircuitOpens.Inc()
	}
}

func (p *ProviderConn) nextBackoff() time.Duration {
	n := len(p.fails)
	if n <= 0 {
		return time.Second
	}
	if n > 5 {
		n = 5
	}
	d := time.Duration(1<<uint(n-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nzd(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
