// voiceprobe drives a live server through a text-only intake
// conversation and prints every frame it receives. Useful for smoke
// testing a deployment without a microphone.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"loanvoice/agent/internal/protocol"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/voice/stream", "voice stream URL")
	token := flag.String("token", "", "stream token (required when auth is enabled)")
	script := flag.String("script", defaultScript, "pipe-separated user utterances")
	stepDelay := flag.Duration("delay", 3*time.Second, "delay between utterances")
	timeout := flag.Duration("timeout", 90*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	url := *addr
	if *token != "" {
		url += "?token=" + *token
	}
	c, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer c.Close(ws.StatusNormalClosure, "done")
	c.SetReadLimit(1 << 20)

	handedOff := make(chan struct{})
	go func() {
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					fmt.Printf("\n[stream] read error: %v\n", err)
				}
				return
			}
			if printFrame(data) {
				close(handedOff)
				return
			}
		}
	}()

	utterances := strings.Split(*script, "|")
	fmt.Printf("=== voiceprobe: %d utterances ===\n\n", len(utterances))

	for i, u := range utterances {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		select {
		case <-handedOff:
			fmt.Println("[*] handoff reached, stopping script")
			goto wait
		case <-ctx.Done():
			log.Fatal("timeout before script finished")
		case <-time.After(*stepDelay):
		}
		fmt.Printf("[%d] -> %q\n", i+1, u)
		if err := c.Write(ctx, ws.MessageText,
			protocol.Marshal(protocol.TypeTextInput, protocol.TextPayload{Text: u})); err != nil {
			log.Fatalf("write: %v", err)
		}
	}

wait:
	select {
	case <-handedOff:
		fmt.Println("[*] session ready for handoff")
	case <-ctx.Done():
		fmt.Println("[*] timeout reached")
	}
}

const defaultScript = "My name is Asha Rao" +
	"|I earn 80000 a month" +
	"|My credit score is 750" +
	"|I need a loan of 5 lakh for home renovation" +
	"|I'm salaried" +
	"|No existing EMIs"

// printFrame renders one envelope; returns true on ready_for_handoff.
func printFrame(data []byte) bool {
	ts := time.Now().Format("15:04:05.000")
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fmt.Printf("[%s] <- unparseable frame: %s\n", ts, data)
		return false
	}
	switch env.Type {
	case protocol.TypeAIAudioChunk:
		fmt.Printf("[%s] <- audio chunk (%d bytes b64)\n", ts, len(env.Data))
	case protocol.TypeAITextDelta:
		var p protocol.TextPayload
		_ = json.Unmarshal(env.Data, &p)
		fmt.Printf("[%s] <- delta: %q\n", ts, p.Text)
	case protocol.TypeStructuredDataUpdate:
		fmt.Printf("[%s] <- fields: %s\n", ts, env.Data)
	case protocol.TypeReadyForHandoff:
		fmt.Printf("[%s] <- READY FOR HANDOFF: %s\n", ts, env.Data)
		return true
	default:
		fmt.Printf("[%s] <- %s: %s\n", ts, env.Type, env.Data)
	}
	return false
}
