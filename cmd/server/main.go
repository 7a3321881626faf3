package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"loanvoice/agent/internal/api"
	"loanvoice/agent/internal/config"
	"loanvoice/agent/internal/convlog"
	"loanvoice/agent/internal/dialogue"
	"loanvoice/agent/internal/handoff"
	"loanvoice/agent/internal/registry"
	"loanvoice/agent/internal/session"
	"loanvoice/agent/internal/stt"
	"loanvoice/agent/internal/tts"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	reg := registry.New()

	policy := dialogue.NewClient(dialogue.ClientConfig{
		Endpoint:    cfg.Dialogue.Endpoint,
		APIKey:      cfg.Dialogue.APIKey,
		Model:       cfg.Dialogue.Model,
		Temperature: cfg.Dialogue.Temperature,
		MaxTokens:   cfg.Dialogue.MaxTokens,
		Timeout:     time.Duration(cfg.Dialogue.TimeoutSec) * time.Second,
	})
	synth := tts.NewClient(tts.ClientConfig{
		Endpoint: cfg.TTS.Endpoint,
		APIKey:   cfg.TTS.APIKey,
		VoiceID:  cfg.TTS.VoiceID,
		Timeout:  time.Duration(cfg.TTS.TimeoutSec) * time.Second,
	})
	dispatcher := handoff.NewDispatcher(handoff.NewClient(handoff.ClientConfig{
		Endpoint: cfg.Handoff.Endpoint,
		APIKey:   cfg.Handoff.APIKey,
	}))

	// Conversation log: Redis when configured, in-memory otherwise.
	var logger convlog.Logger
	var replay *convlog.Memory
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger = convlog.NewRedis(rdb, time.Duration(cfg.Redis.TTLHours)*time.Hour)
		log.Printf("conversation log: redis at %s", cfg.Redis.Addr)
	} else {
		mem := convlog.NewMemory()
		logger = mem
		replay = mem
		log.Printf("conversation log: in-memory")
	}

	sessCfg := session.DefaultConfig()
	if cfg.Session.Greeting != "" {
		sessCfg.Greeting = cfg.Session.Greeting
	}
	if cfg.Session.MaxUpstreamFails > 0 {
		sessCfg.MaxUpstreamFails = cfg.Session.MaxUpstreamFails
	}
	if cfg.Session.RetryBackoffMs > 0 {
		sessCfg.RetryBackoff = cfg.RetryBackoff()
	}

	newSession := func(id string, send session.Sender) *session.Session {
		conn := stt.NewProviderConn(context.Background(), id, stt.ProviderConfig{
			BaseURL:    cfg.Deepgram.URL,
			APIKey:     cfg.Deepgram.APIKey,
			Model:      cfg.Deepgram.Model,
			Language:   cfg.Deepgram.Language,
			SampleRate: cfg.Deepgram.SampleRate,
		})
		conn.Start()
		return session.New(id, sessCfg, session.Deps{
			Transcriber: conn,
			Policy:      policy,
			Synth:       synth,
			Dispatcher:  dispatcher,
			Logger:      logger,
			Registry:    reg,
			Send:        send,
		})
	}

	h := api.NewHandlers(cfg, reg, newSession, replay)
	mux := api.NewRouter(h)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutdown signal received; stopping server...")
		reg.ShutdownAll("server_shutdown")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Printf("server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
