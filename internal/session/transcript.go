package session

import (
	"strings"
	"sync"
)

// TranscriptBuffer accumulates the accepted utterances of one call in
// arrival order.
type TranscriptBuffer struct {
	mu       sync.Mutex
	entries  []string
	language string
}

// NewTranscriptBuffer creates an empty transcript.
func NewTranscriptBuffer() *TranscriptBuffer {
	return &TranscriptBuffer{}
}

// Append adds one accepted utterance.
func (t *TranscriptBuffer) Append(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, text)
}

// Len returns the number of accepted utterances.
func (t *TranscriptBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of the transcript.
func (t *TranscriptBuffer) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.entries))
	copy(out, t.entries)
	return out
}

// Joined returns the whole transcript as a single string.
func (t *TranscriptBuffer) Joined() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.entries, " ")
}

// SetDetectedLanguage records the speech service's most recent language
// detection.
func (t *TranscriptBuffer) SetDetectedLanguage(language string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.language = language
}

// DetectedLanguage returns the most recently detected language, if any.
func (t *TranscriptBuffer) DetectedLanguage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.language
}
