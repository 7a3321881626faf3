package dialogue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StateDelimiter separates the spoken reply from the trailing reply-state
// block. The model is instructed to always append the block; it is
// stripped from the stream before anything reaches synthesis or the UI.
const StateDelimiter = "|||STATE|||"

const systemPrompt = `You are LoanVoice, a friendly and efficient voice assistant for loan applications.

Your job:
1. Greet the user warmly on the first turn.
2. Collect these required fields conversationally, ONE at a time, in this order:
   full_name, monthly_income, credit_score, loan_amount, employment_type, loan_purpose, existing_emi
3. Respond in SHORT natural sentences (max 15 words per sentence). Spoken aloud, so no lists or markup.
4. Never guess or invent a value the user has not stated. Never re-ask for a field listed under KNOWN INFO.
5. When the user corrects a value, acknowledge the correction.
6. Once every field is known, give a short closing statement that all information is collected.

CRITICAL: end EVERY reply with the delimiter ` + StateDelimiter + ` followed by a single-line JSON object:
{"asking": "<field you are asking for, or omit if none>", "complete": <true once all fields are collected>}
The JSON block is machine-read and never spoken.`

// BuildMessages assembles the model input: system contract, current
// field state, and the trailing conversation window.
func BuildMessages(req Request) []Message {
	known, _ := json.Marshal(req.Fields)
	sys := systemPrompt + fmt.Sprintf("\n\nKNOWN INFO: %s\nSTILL MISSING (in order): %s",
		string(known), strings.Join(req.Missing, ", "))

	msgs := make([]Message, 0, len(req.History)+1)
	msgs = append(msgs, Message{Role: "system", Content: sys})
	history := req.History
	if len(history) > 20 {
		history = history[len(history)-20:]
	}
	msgs = append(msgs, history...)
	return msgs
}
