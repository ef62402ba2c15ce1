package session

import (
	"regexp"
	"strings"
)

// Speech models invent filler phrases on silence or noise-only input.
// Transcripts that normalize to one of these are dropped before they
// reach the conversation backend.
var hallucinationPhrases = map[string]struct{}{
	"you":                  {},
	"thank you":            {},
	"thanks":               {},
	"thank you.":           {},
	"thanks for watching":  {},
	"thanks for watching.": {},
	"bye":                  {},
	"bye.":                 {},
	".":                    {},
	"..":                   {},
	"...":                  {},
}

// punctuationOnly matches transcripts with no letters or digits at all.
var punctuationOnly = regexp.MustCompile(`^[\s\p{P}\p{S}]*$`)

// IsHallucination reports whether a transcription is a known speech-model
// artifact rather than caller speech. Empty and whitespace-only text is
// treated the same way.
func IsHallucination(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return true
	}
	if _, ok := hallucinationPhrases[normalized]; ok {
		return true
	}
	// Also catch the blocklist phrases with trailing punctuation stripped
	trimmed := strings.TrimRight(normalized, ".!? ")
	if _, ok := hallucinationPhrases[trimmed]; ok {
		return true
	}
	return punctuationOnly.MatchString(normalized)
}
