package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c := Load()

	if c.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", c.Server.Port)
	}
	if c.Deepgram.Model != "nova-2" {
		t.Errorf("deepgram model = %q", c.Deepgram.Model)
	}
	if c.Deepgram.SampleRate != 16000 {
		t.Errorf("sample rate = %d", c.Deepgram.SampleRate)
	}
	if c.Session.MaxUpstreamFails != 4 {
		t.Errorf("max upstream fails = %d", c.Session.MaxUpstreamFails)
	}
	if c.Session.Greeting == "" {
		t.Error("default greeting should not be empty")
	}
	if c.Redis.TTLHours != 24 {
		t.Errorf("redis ttl = %d", c.Redis.TTLHours)
	}
	if c.Auth.TokenTTLMin != 60 {
		t.Errorf("token ttl = %d", c.Auth.TokenTTLMin)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("DIALOGUE_MODEL", "gpt-4o")
	t.Setenv("DIALOGUE_TEMPERATURE", "0.7")
	t.Setenv("SESSION_RETRY_BACKOFF_MS", "250")
	t.Setenv("AUTH_TOKEN_SECRET", "shh")

	c := Load()
	if c.Server.Port != "9999" {
		t.Errorf("port = %q", c.Server.Port)
	}
	if c.Deepgram.APIKey != "dg-key" {
		t.Errorf("deepgram key = %q", c.Deepgram.APIKey)
	}
	if c.Dialogue.Model != "gpt-4o" {
		t.Errorf("dialogue model = %q", c.Dialogue.Model)
	}
	if c.Dialogue.Temperature != 0.7 {
		t.Errorf("temperature = %v", c.Dialogue.Temperature)
	}
	if c.RetryBackoff() != 250*time.Millisecond {
		t.Errorf("retry backoff = %v", c.RetryBackoff())
	}
	if c.Auth.TokenSecret != "shh" {
		t.Errorf("token secret = %q", c.Auth.TokenSecret)
	}
}
