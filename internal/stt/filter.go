package stt

import "strings"

// Filter rejects transcript finals that are STT hallucinations: known
// junk phrases the model emits on near-silence, repetition loops, and
// consecutive duplicates of the previous final.
type Filter struct {
	lastAccepted string
}

func NewFilter() *Filter { return &Filter{} }

// junkPhrases show up on silence or music with small STT models.
var junkPhrases = []string{
	"thanks for watching",
	"subtitles by",
	"amara.org",
	"copyright",
	"all rights reserved",
	"can you hear me",
	"you can hear me",
}

// Accept returns the cleaned text and whether it should be forwarded.
func (f *Filter) Accept(text string) (string, bool) {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return "", false
	}
	lower := strings.Trim(strings.ToLower(clean), " .,!?")
	if len(lower) < 2 {
		return "", false
	}
	for _, j := range junkPhrases {
		if strings.Contains(lower, j) {
			return "", false
		}
	}
	if isRepetitionLoop(lower) {
		return "", false
	}
	if clean == f.lastAccepted {
		return "", false
	}
	f.lastAccepted = clean
	return clean, true
}

// isRepetitionLoop catches "X Y Z X Y Z" style decoder loops: an exact
// half-split repeat, or a leading trigram occurring three or more times.
func isRepetitionLoop(lower string) bool {
	words := strings.Fields(lower)
	if len(words) >= 4 {
		mid := len(words) / 2
		if len(words)%2 == 0 && strings.Join(words[:mid], " ") == strings.Join(words[mid:], " ") {
			return true
		}
	}
	if len(words) >= 6 {
		phrase := strings.Join(words[:3], " ")
		if strings.Count(lower, phrase) >= 3 {
			return true
		}
	}
	return false
}
