package dialogue

import (
	"encoding/json"
	"regexp"
	"strings"

	"loanvoice/agent/internal/readiness"
)

// replySplitter separates spoken text from the trailing state block as
// tokens stream in. The delimiter can arrive split across chunks, so a
// suffix that could still grow into the delimiter is held back until
// the next chunk settles it.
type replySplitter struct {
	inState bool
	held    string
	state   strings.Builder
	spoken  strings.Builder
}

// Feed consumes one streamed chunk and returns the text that is safe to
// emit as spoken tokens (possibly empty).
func (r *replySplitter) Feed(chunk string) string {
	if r.inState {
		r.state.WriteString(chunk)
		return ""
	}
	buf := r.held + chunk
	if i := strings.Index(buf, StateDelimiter); i >= 0 {
		r.inState = true
		r.held = ""
		r.state.WriteString(buf[i+len(StateDelimiter):])
		out := buf[:i]
		r.spoken.WriteString(out)
		return out
	}
	// Hold back the longest suffix that is a prefix of the delimiter.
	hold := 0
	max := len(StateDelimiter) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(StateDelimiter, buf[len(buf)-n:]) {
			hold = n
			break
		}
	}
	r.held = buf[len(buf)-hold:]
	out := buf[:len(buf)-hold]
	r.spoken.WriteString(out)
	return out
}

// Flush returns any held-back text once the stream has ended.
func (r *replySplitter) Flush() string {
	out := r.held
	r.held = ""
	r.spoken.WriteString(out)
	return out
}

// Spoken returns the full spoken reply accumulated so far.
func (r *replySplitter) Spoken() string { return r.spoken.String() }

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// State parses the collected state block. Models wrap the JSON in
// noise often enough that the first {...} span is extracted leniently;
// an unparseable block yields a zero state (fallback heuristics apply).
func (r *replySplitter) State() readiness.ReplyState {
	raw := strings.TrimSpace(r.state.String())
	if raw == "" {
		return readiness.ReplyState{}
	}
	if m := jsonObjectPattern.FindString(raw); m != "" {
		raw = m
	}
	var st readiness.ReplyState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return readiness.ReplyState{}
	}
	return st
}
