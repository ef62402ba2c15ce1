package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rajeshganji/voxflow/internal/audio"
)

// Call holds the per-call state the orchestrator tracks between events.
// The boolean guards are atomics so the hot media path never blocks on the
// options mutex.
type Call struct {
	UCID      string
	DID       string
	StartTime time.Time

	processor  *audio.Processor
	transcript *TranscriptBuffer

	// transcribing guards the transcription pipeline: at most one chunk
	// per call is in flight at a time.
	transcribing atomic.Bool

	// playingBack suppresses new transcriptions while a response is being
	// streamed to the caller, so the system does not hear itself.
	playingBack atomic.Bool

	// firstMediaSeen flips after the first media packet so the 16kHz
	// setup artifact can be discarded exactly once.
	firstMediaSeen atomic.Bool

	packetsReceived atomic.Uint64
	chunksFlushed   atomic.Uint64
	transcriptions  atomic.Uint64
	responses       atomic.Uint64

	mu       sync.RWMutex
	language string
	voice    string
	ended    bool
}

// CallInfo is a read-only snapshot of a call used by the monitoring API.
type CallInfo struct {
	UCID            string    `json:"ucid"`
	DID             string    `json:"did"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Language        string    `json:"language"`
	Voice           string    `json:"voice"`
	Transcribing    bool      `json:"transcribing"`
	PlayingBack     bool      `json:"playing_back"`
	PacketsReceived uint64    `json:"packets_received"`
	ChunksFlushed   uint64    `json:"chunks_flushed"`
	Transcriptions  uint64    `json:"transcriptions"`
	Responses       uint64    `json:"responses"`
	BufferMs        int64     `json:"buffer_ms"`
	Transcript      []string  `json:"transcript,omitempty"`
}

func newCall(ucid, did string, proc *audio.Processor, language, voice string) *Call {
	c := &Call{
		UCID:       ucid,
		DID:        did,
		StartTime:  time.Now(),
		processor:  proc,
		transcript: NewTranscriptBuffer(),
	}
	c.language = language
	c.voice = voice
	return c
}

// Language returns the call's current transcription language.
func (c *Call) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// SetLanguage updates the call's transcription language.
func (c *Call) SetLanguage(language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = language
}

// Voice returns the call's current playback voice.
func (c *Call) Voice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voice
}

// SetVoice updates the call's playback voice.
func (c *Call) SetVoice(voice string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
}

// markEnded flips the call into its terminal state. Returns false if the
// call had already ended, which makes stream-end handling idempotent.
func (c *Call) markEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.ended = true
	return true
}

// Ended reports whether the call has reached its terminal state.
func (c *Call) Ended() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ended
}

// Info returns a snapshot for the monitoring API. The transcript is
// included only when withTranscript is set.
func (c *Call) Info(withTranscript bool) CallInfo {
	info := CallInfo{
		UCID:            c.UCID,
		DID:             c.DID,
		StartTime:       c.StartTime,
		DurationSeconds: time.Since(c.StartTime).Seconds(),
		Language:        c.Language(),
		Voice:           c.Voice(),
		Transcribing:    c.transcribing.Load(),
		PlayingBack:     c.playingBack.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		ChunksFlushed:   c.chunksFlushed.Load(),
		Transcriptions:  c.transcriptions.Load(),
		Responses:       c.responses.Load(),
		BufferMs:        c.processor.Duration().Milliseconds(),
	}
	if withTranscript {
		info.Transcript = c.transcript.Snapshot()
	}
	return info
}
