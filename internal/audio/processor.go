package audio

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrNoAudio is returned when a WAV export is requested on an empty buffer.
var ErrNoAudio = errors.New("no buffered audio")

// ProcessorConfig tunes the per-call accumulator and its flush policy.
type ProcessorConfig struct {
	MinAudioDuration time.Duration // minimum speech before a silence flush
	MaxAudioDuration time.Duration // forced flush bound
	SilenceThreshold time.Duration // how long silence must persist
	SilenceAmplitude float64       // RMS floor separating voice from silence
	SampleRate       int
	BitsPerSample    int
	Channels         int
}

// DefaultProcessorConfig returns the baseline tuning for short recordings.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MinAudioDuration: 1000 * time.Millisecond,
		MaxAudioDuration: 5000 * time.Millisecond,
		SilenceThreshold: 1000 * time.Millisecond,
		SilenceAmplitude: 100,
		SampleRate:       8000,
		BitsPerSample:    16,
		Channels:         1,
	}
}

// Processor accumulates inbound PCM for one call and decides when enough
// speech has arrived to hand the buffer off for transcription.
type Processor struct {
	cfg    ProcessorConfig
	logger *slog.Logger

	samples       []int16
	energySum     float64 // running sum of squared samples
	silentSamples int     // consecutive silent samples since last voice
	silentPackets int     // consecutive silent packets since last voice
	lastVoiceTime time.Time
	totalPackets  uint64

	mu sync.Mutex
}

// ProcessorInfo is a diagnostic snapshot of the accumulator state.
type ProcessorInfo struct {
	DurationMs       int64     `json:"duration_ms"`
	SampleCount      int       `json:"sample_count"`
	SilenceMs        int64     `json:"silence_ms"`
	SilentPackets    int       `json:"silent_packets"`
	BufferRMS        float64   `json:"buffer_rms"`
	LastVoiceTime    time.Time `json:"last_voice_time"`
	TotalPackets     uint64    `json:"total_packets"`
	SilenceAmplitude float64   `json:"silence_amplitude"`
}

// NewProcessor creates a per-call audio accumulator.
func NewProcessor(cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.BitsPerSample == 0 {
		cfg.BitsPerSample = 16
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		cfg:     cfg,
		logger:  logger,
		samples: make([]int16, 0, cfg.SampleRate*2),
	}
}

// AddSamples appends one inbound packet to the buffer and classifies it as
// voice or silence by its RMS energy. Empty input is a warned no-op.
func (p *Processor) AddSamples(samples []int16, sampleRate int) {
	if len(samples) == 0 {
		p.logger.Warn("ignoring empty audio packet")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if sampleRate != 0 && sampleRate != p.cfg.SampleRate {
		p.logger.Warn("packet sample rate differs from configured rate",
			slog.Int("packet_rate", sampleRate),
			slog.Int("configured_rate", p.cfg.SampleRate),
		)
	}

	p.samples = append(p.samples, samples...)
	p.totalPackets++

	for _, s := range samples {
		p.energySum += float64(s) * float64(s)
	}

	if RMS(samples) > p.cfg.SilenceAmplitude {
		p.silentPackets = 0
		p.silentSamples = 0
		p.lastVoiceTime = time.Now()
	} else {
		p.silentPackets++
		p.silentSamples += len(samples)
	}
}

// ShouldFlush reports whether the buffer is ready for transcription.
// A buffer at or past the maximum duration always flushes, even under
// continuous voice. Below that, silence must have persisted past the
// threshold and the buffer must hold at least the minimum duration:
// silence alone never flushes pure background noise.
func (p *Processor) ShouldFlush() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	duration := p.durationLocked()
	if duration >= p.cfg.MaxAudioDuration {
		return true
	}

	silence := p.silenceDurationLocked()
	return silence >= p.cfg.SilenceThreshold && duration >= p.cfg.MinAudioDuration
}

// ToWAV encodes the buffered samples as a WAV container. Returns ErrNoAudio
// on an empty buffer.
func (p *Processor) ToWAV() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.samples) == 0 {
		return nil, ErrNoAudio
	}

	return EncodeWAV(p.samples, p.cfg.SampleRate)
}

// Drain encodes the buffer as WAV and clears it in one critical section,
// returning the duration and RMS of exactly the encoded samples. Packets
// appended during the encode wait and open the next chunk; nothing is lost
// between the snapshot and the reset. Returns ErrNoAudio on an empty buffer.
func (p *Processor) Drain() ([]byte, time.Duration, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.samples) == 0 {
		return nil, 0, 0, ErrNoAudio
	}

	duration := p.durationLocked()
	rms := p.bufferRMSLocked()
	wav, err := EncodeWAV(p.samples, p.cfg.SampleRate)
	if err != nil {
		return nil, 0, 0, err
	}

	p.resetLocked()
	return wav, duration, rms, nil
}

// Reset clears the buffer and all derived counters, preserving the
// configuration.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Processor) resetLocked() {
	p.samples = p.samples[:0]
	p.energySum = 0
	p.silentSamples = 0
	p.silentPackets = 0
	p.lastVoiceTime = time.Time{}
}

// Duration returns the buffered audio length in audio time.
func (p *Processor) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durationLocked()
}

// SampleCount returns the number of buffered samples.
func (p *Processor) SampleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

// BufferRMS returns the RMS energy of the whole buffer. Used by the
// orchestrator's quality gate, which is distinct from the flush decision.
func (p *Processor) BufferRMS() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferRMSLocked()
}

// Info returns a diagnostic snapshot.
func (p *Processor) Info() ProcessorInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProcessorInfo{
		DurationMs:       p.durationLocked().Milliseconds(),
		SampleCount:      len(p.samples),
		SilenceMs:        p.silenceDurationLocked().Milliseconds(),
		SilentPackets:    p.silentPackets,
		BufferRMS:        p.bufferRMSLocked(),
		LastVoiceTime:    p.lastVoiceTime,
		TotalPackets:     p.totalPackets,
		SilenceAmplitude: p.cfg.SilenceAmplitude,
	}
}

// durationLocked converts the buffered sample count to audio time.
func (p *Processor) durationLocked() time.Duration {
	return time.Duration(len(p.samples)) * time.Second / time.Duration(p.cfg.SampleRate)
}

// silenceDurationLocked measures how long silence has persisted, in audio
// time. Audio time rather than wall clock keeps the flush decision
// deterministic under bursty packet delivery.
func (p *Processor) silenceDurationLocked() time.Duration {
	return time.Duration(p.silentSamples) * time.Second / time.Duration(p.cfg.SampleRate)
}

func (p *Processor) bufferRMSLocked() float64 {
	if len(p.samples) == 0 {
		return 0
	}

	return math.Sqrt(p.energySum / float64(len(p.samples)))
}
