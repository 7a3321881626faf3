package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Deepgram struct {
		APIKey     string
		URL        string
		Model      string
		Language   string
		SampleRate int
	}
	Dialogue struct {
		Endpoint    string
		APIKey      string
		Model       string
		Temperature float64
		MaxTokens   int
		TimeoutSec  int
	}
	TTS struct {
		Endpoint   string
		APIKey     string
		VoiceID    string
		TimeoutSec int
	}
	Handoff struct {
		Endpoint string
		APIKey   string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
		TTLHours int
	}
	Session struct {
		Greeting         string
		MaxUpstreamFails int
		RetryBackoffMs   int
	}
	Auth struct {
		TokenSecret  string
		TokenTTLMin  int
		TokenSkewSec int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("deepgram.url", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.language", "en")
	v.SetDefault("deepgram.sample_rate", 16000)

	v.SetDefault("dialogue.model", "gpt-4o-mini")
	v.SetDefault("dialogue.temperature", 0.3)
	v.SetDefault("dialogue.max_tokens", 300)
	v.SetDefault("dialogue.timeout_sec", 30)

	v.SetDefault("tts.timeout_sec", 8)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_hours", 24)

	v.SetDefault("session.greeting",
		"Hi, I'm LoanVoice. I'll help you apply for a loan. What's your full name?")
	v.SetDefault("session.max_upstream_fails", 4)
	v.SetDefault("session.retry_backoff_ms", 400)

	v.SetDefault("auth.token_ttl_min", 60)
	v.SetDefault("auth.token_skew_sec", 30)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("deepgram.url", "DEEPGRAM_URL")
	v.BindEnv("deepgram.model", "DEEPGRAM_MODEL")
	v.BindEnv("deepgram.language", "DEEPGRAM_LANGUAGE")
	v.BindEnv("deepgram.sample_rate", "DEEPGRAM_SAMPLE_RATE")

	v.BindEnv("dialogue.endpoint", "DIALOGUE_ENDPOINT")
	v.BindEnv("dialogue.api_key", "DIALOGUE_API_KEY")
	v.BindEnv("dialogue.model", "DIALOGUE_MODEL")
	v.BindEnv("dialogue.temperature", "DIALOGUE_TEMPERATURE")
	v.BindEnv("dialogue.max_tokens", "DIALOGUE_MAX_TOKENS")
	v.BindEnv("dialogue.timeout_sec", "DIALOGUE_TIMEOUT_SEC")

	v.BindEnv("tts.endpoint", "TTS_ENDPOINT")
	v.BindEnv("tts.api_key", "TTS_API_KEY")
	v.BindEnv("tts.voice_id", "TTS_VOICE_ID")
	v.BindEnv("tts.timeout_sec", "TTS_TIMEOUT_SEC")

	v.BindEnv("handoff.endpoint", "HANDOFF_ENDPOINT")
	v.BindEnv("handoff.api_key", "HANDOFF_API_KEY")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.ttl_hours", "REDIS_TTL_HOURS")

	v.BindEnv("session.greeting", "SESSION_GREETING")
	v.BindEnv("session.max_upstream_fails", "SESSION_MAX_UPSTREAM_FAILS")
	v.BindEnv("session.retry_backoff_ms", "SESSION_RETRY_BACKOFF_MS")

	v.BindEnv("auth.token_secret", "AUTH_TOKEN_SECRET")
	v.BindEnv("auth.token_ttl_min", "AUTH_TOKEN_TTL_MIN")
	v.BindEnv("auth.token_skew_sec", "AUTH_TOKEN_SKEW_SEC")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Deepgram.APIKey = v.GetString("deepgram.api_key")
	c.Deepgram.URL = v.GetString("deepgram.url")
	c.Deepgram.Model = v.GetString("deepgram.model")
	c.Deepgram.Language = v.GetString("deepgram.language")
	c.Deepgram.SampleRate = v.GetInt("deepgram.sample_rate")

	c.Dialogue.Endpoint = v.GetString("dialogue.endpoint")
	c.Dialogue.APIKey = v.GetString("dialogue.api_key")
	c.Dialogue.Model = v.GetString("dialogue.model")
	c.Dialogue.Temperature = v.GetFloat64("dialogue.temperature")
	c.Dialogue.MaxTokens = v.GetInt("dialogue.max_tokens")
	c.Dialogue.TimeoutSec = v.GetInt("dialogue.timeout_sec")

	c.TTS.Endpoint = v.GetString("tts.endpoint")
	c.TTS.APIKey = v.GetString("tts.api_key")
	c.TTS.VoiceID = v.GetString("tts.voice_id")
	c.TTS.TimeoutSec = v.GetInt("tts.timeout_sec")

	c.Handoff.Endpoint = v.GetString("handoff.endpoint")
	c.Handoff.APIKey = v.GetString("handoff.api_key")

	c.Redis.Addr = v.GetString("redis.addr")
	c.Redis.Password = v.GetString("redis.password")
	c.Redis.DB = v.GetInt("redis.db")
	c.Redis.TTLHours = v.GetInt("redis.ttl_hours")

	c.Session.Greeting = v.GetString("session.greeting")
	c.Session.MaxUpstreamFails = v.GetInt("session.max_upstream_fails")
	c.Session.RetryBackoffMs = v.GetInt("session.retry_backoff_ms")

	c.Auth.TokenSecret = v.GetString("auth.token_secret")
	c.Auth.TokenTTLMin = v.GetInt("auth.token_ttl_min")
	c.Auth.TokenSkewSec = v.GetInt("auth.token_skew_sec")

	log.Printf("config loaded: port=%s dialogue_model=%s redis=%v",
		c.Server.Port, c.Dialogue.Model, c.Redis.Addr != "")
	return c
}

// RetryBackoff returns the upstream retry delay as a Duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Session.RetryBackoffMs) * time.Millisecond
}

func toString(v any) string { return fmt.Sprint(v) }
