package dialogue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig points the adapter at an OpenAI-compatible streaming
// chat-completions endpoint.
type ClientConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client streams assistant replies over SSE.
type Client struct {
	cfg   ClientConfig
	httpc *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	// Per-request deadlines come from the caller's context; the HTTP
	// client itself must not cut streaming responses short.
	return &Client{cfg: cfg, httpc: &http.Client{Timeout: 0}}
}

// Stream starts one reply generation. Events are delivered until
// EventDone or EventError; cancelling ctx aborts the request and closes
// the channel without a Done event.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	body := map[string]any{
		"model":    c.cfg.Model,
		"stream":   true,
		"messages": BuildMessages(req),
	}
	if c.cfg.MaxTokens > 0 {
		body["max_tokens"] = c.cfg.MaxTokens
	}
	if c.cfg.Temperature > 0 {
		body["temperature"] = c.cfg.Temperature
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		cancel()
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpc.Do(hreq)
	if err != nil {
		cancel()
		metricRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dialogue request: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancel()
		metricRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dialogue status=%d body=%s", resp.StatusCode, string(b))
	}
	metricRequests.WithLabelValues("ok").Inc()

	out := make(chan Event, 32)
	go c.pump(ctx, cancel, resp.Body, out, start)
	return out, nil
}

func (c *Client) pump(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, out chan<- Event, start time.Time) {
	defer close(out)
	defer body.Close()
	defer cancel()

	var split replySplitter
	firstToken := false
	decoder := newSSEDecoder(bufio.NewReader(body))
	for {
		if ctx.Err() != nil {
			return
		}
		data, err := decoder.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return
			}
			out <- Event{Kind: EventError, Err: fmt.Errorf("dialogue stream: %w", err)}
			return
		}
		if string(data) == "[DONE]" {
			break
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		content := deltaContent(m)
		if content == "" {
			continue
		}
		if !firstToken {
			metricTTFTMS.Observe(float64(time.Since(start).Milliseconds()))
			firstToken = true
		}
		if text := split.Feed(content); text != "" {
			metricTokens.Inc()
			select {
			case out <- Event{Kind: EventToken, Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}

	if text := split.Flush(); text != "" {
		select {
		case out <- Event{Kind: EventToken, Text: text}:
		case <-ctx.Done():
			return
		}
	}
	select {
	case out <- Event{Kind: EventDone, Text: split.Spoken(), State: split.State()}:
	case <-ctx.Done():
	}
}

func deltaContent(m map[string]any) string {
	choices, _ := m["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)
	s, _ := delta["content"].(string)
	return s
}

type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r *bufio.Reader) *sseDecoder { return &sseDecoder{r: r} }

// Next returns the next SSE data payload. Event names are ignored;
// OpenAI-compatible streams carry everything in "data:" lines.
func (d *sseDecoder) Next() ([]byte, error) {
	var data []byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if len(data) == 0 {
				continue
			}
			return data, nil
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			data = append(data, bytes.TrimSpace(line[len("data:"):])...)
		}
	}
}

var _ Policy = (*Client)(nil)
