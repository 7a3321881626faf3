package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig points the dispatcher at the application service's
// submit endpoint.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client submits completed applications over HTTP.
type Client struct {
	cfg   ClientConfig
	httpc *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{cfg: cfg, httpc: &http.Client{Timeout: cfg.Timeout}}
}

type submitResponse struct {
	ApplicationID string `json:"application_id"`
}

func (c *Client) Submit(ctx context.Context, p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("application service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("application service status=%d body=%s", resp.StatusCode, string(b))
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("application service decode: %w", err)
	}
	if sr.ApplicationID == "" {
		return "", fmt.Errorf("application service returned no application_id")
	}
	return sr.ApplicationID, nil
}

var _ Submitter = (*Client)(nil)
