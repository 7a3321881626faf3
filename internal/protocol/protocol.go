package protocol

import "encoding/json"

// Message types exchanged over the client websocket. Client audio arrives
// as raw binary frames (PCM16 little-endian, 16 kHz mono); everything
// else is a JSON text frame wrapped in Envelope.
const (
	// client -> server
	TypeTextInput  = "text_input"
	TypeEndSession = "end_session"

	// server -> client
	TypeTranscriptPartial    = "transcript_partial"
	TypeTranscriptFinal      = "transcript_final"
	TypeAITextDelta          = "ai_text_delta"
	TypeAIAudioChunk         = "ai_audio_chunk"
	TypeStructuredDataUpdate = "structured_data_update"
	TypeReadyForHandoff      = "ready_for_handoff"
	TypeError                = "error"
)

// Envelope is the JSON frame wrapper: {"type": "...", "data": ...}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextPayload carries plain text (transcripts, token deltas, typed input).
type TextPayload struct {
	Text string `json:"text"`
}

// AudioPayload carries synthesized audio as base64 PCM16@16k.
type AudioPayload struct {
	Audio string `json:"audio"`
}

// HandoffPayload notifies the client that all fields are collected.
type HandoffPayload struct {
	SessionID     string         `json:"session_id"`
	ApplicationID string         `json:"application_id,omitempty"`
	Fields        map[string]any `json:"fields"`
}

// ErrorPayload names the failing component alongside a human-readable message.
type ErrorPayload struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Marshal builds a JSON envelope around v. Marshal failures are
// programming errors; they surface as an empty frame rather than a panic.
func Marshal(typ string, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data = nil
	}
	b, _ := json.Marshal(Envelope{Type: typ, Data: data})
	return b
}
