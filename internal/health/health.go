package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loanvoice/agent/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all upstream checks and returns combined status
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	checks := []CheckResult{
		checkDeepgram(ctx, cfg),
		checkDialogue(ctx, cfg),
		checkTTS(ctx, cfg),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func checkDeepgram(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "deepgram"}

	if cfg.Deepgram.APIKey == "" {
		result.Error = "DEEPGRAM_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	// Lightweight auth probe against the REST surface; the streaming
	// endpoint shares the same credential.
	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.deepgram.com/v1/projects", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Token "+cfg.Deepgram.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == 401 {
		result.Error = "invalid API key (401)"
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}

	result.OK = true
	return result
}

func checkDialogue(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "dialogue"}

	if cfg.Dialogue.Endpoint == "" {
		result.Error = "DIALOGUE_ENDPOINT not set"
		result.Latency = time.Since(start)
		return result
	}
	if cfg.Dialogue.APIKey == "" {
		result.Error = "DIALOGUE_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	// The models listing is the cheapest authenticated call on
	// OpenAI-compatible endpoints.
	url := strings.TrimSuffix(cfg.Dialogue.Endpoint, "/chat/completions") + "/models"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Dialogue.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == 401 {
		result.Error = "invalid API key (401)"
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}

	result.OK = true
	return result
}

func checkTTS(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "tts"}

	if cfg.TTS.Endpoint == "" {
		result.Error = "TTS_ENDPOINT not set"
		result.Latency = time.Since(start)
		return result
	}

	// Minimal one-character synthesis; works with synthesis-only keys.
	body := `{"text":"."}`
	req, err := http.NewRequestWithContext(ctx, "POST", cfg.TTS.Endpoint, strings.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.TTS.APIKey != "" {
		req.Header.Set("xi-api-key", cfg.TTS.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == 401 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("invalid API key (401): %s", string(bodyBytes))
		return result
	}
	if resp.StatusCode != 200 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
		return result
	}

	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}
