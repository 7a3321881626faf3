package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig points the adapter at an ElevenLabs-style synthesis
// endpoint that returns WAV audio for a text body.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	VoiceID  string
	Timeout  time.Duration
}

// Client synthesizes one sentence per request and streams the decoded
// PCM back in 20ms frames.
type Client struct {
	cfg   ClientConfig
	httpc *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Client{cfg: cfg, httpc: &http.Client{Timeout: cfg.Timeout}}
}

const (
	sampleRate = 16000
	frameBytes = sampleRate / 50 * 2 // 20ms of PCM16@16k
)

// Speak implements Synthesizer. The request itself is bounded by the
// client timeout; chunk delivery stops immediately on ctx cancellation
// and the remaining buffer is dropped.
func (c *Client) Speak(ctx context.Context, sentence string) (<-chan []byte, error) {
	url := fmt.Sprintf("%s/%s", c.cfg.Endpoint, c.cfg.VoiceID)
	body, _ := json.Marshal(map[string]any{"text": sentence})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("accept", "audio/wav")
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tts status=%d body=%s", resp.StatusCode, string(b))
	}

	pcm, err := readWAVPCM16(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts decode: %w", err)
	}
	metricSynthMS.Observe(float64(time.Since(start).Milliseconds()))

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for pos := 0; pos < len(pcm); pos += frameBytes {
			end := pos + frameBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case out <- pcm[pos:end]:
				metricAudioBytes.Add(float64(end - pos))
			case <-ctx.Done():
				metricCancels.Inc()
				return
			}
		}
	}()
	return out, nil
}

// readWAVPCM16 extracts raw PCM16 from a WAV body, averaging stereo to
// mono. The provider is configured for 16kHz output; other rates are
// passed through untouched.
func readWAVPCM16(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV")
	}
	off := 12
	var dataOff, dataLen int
	var channels uint16
	for off+8 <= len(b) {
		cid := string(b[off : off+4])
		csz := int(uint32(b[off+4]) | uint32(b[off+5])<<8 | uint32(b[off+6])<<16 | uint32(b[off+7])<<24)
		off += 8
		switch cid {
		case "fmt ":
			if off+csz > len(b) || csz < 16 {
				return nil, fmt.Errorf("bad fmt chunk")
			}
			fmtTag := uint16(b[off]) | uint16(b[off+1])<<8
			channels = uint16(b[off+2]) | uint16(b[off+3])<<8
			bits := uint16(b[off+14]) | uint16(b[off+15])<<8
			if fmtTag != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported WAV format")
			}
			off += csz
		case "data":
			dataOff = off
			dataLen = csz
			off = len(b)
		default:
			off += csz
		}
	}
	if dataOff <= 0 || dataOff+dataLen > len(b) {
		return nil, fmt.Errorf("no data chunk")
	}
	raw := b[dataOff : dataOff+dataLen]
	if channels == 2 {
		out := make([]byte, dataLen/2)
		for i := 0; i+3 < len(raw); i += 4 {
			a := int16(uint16(raw[i]) | uint16(raw[i+1])<<8)
			c := int16(uint16(raw[i+2]) | uint16(raw[i+3])<<8)
			avg := (int32(a) + int32(c)) / 2
			u := uint16(int16(avg))
			j := i / 2
			out[j] = byte(u & 0xFF)
			out[j+1] = byte(u >> 8)
		}
		raw = out
	}
	return raw, nil
}

var _ Synthesizer = (*Client)(nil)
