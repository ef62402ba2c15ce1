package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rajeshganji/voxflow/internal/audio"
	"github.com/rajeshganji/voxflow/internal/metrics"
	"github.com/rajeshganji/voxflow/internal/protocol"
	"github.com/rajeshganji/voxflow/internal/transcription"
)

// Transcriber converts one WAV utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte, language string) (*transcription.Result, error)
}

// ResponderOptions selects the language and voice of a generated response.
type ResponderOptions struct {
	Language string
	Voice    string
}

// Responder generates a spoken response for a transcribed utterance and
// streams it back to the caller. It returns once playback audio has been
// handed to the gateway.
type Responder interface {
	Respond(ctx context.Context, ucid, text string, opts ResponderOptions) error
}

// ControlSender forwards a control command to the telephony gateway.
type ControlSender interface {
	SendControl(ucid, command string, params map[string]any) error
}

// Config tunes the orchestrator's pipelines and quality gates.
type Config struct {
	Processor audio.ProcessorConfig

	// Quality gate: chunks shorter or quieter than this are discarded
	// without a transcription request.
	MinChunkDuration time.Duration
	MinChunkRMS      float64

	TranscribeTimeout time.Duration
	RespondTimeout    time.Duration

	// The gateway's first media packet of a call sometimes arrives at
	// 16kHz before the stream settles at 8kHz.
	IgnoreFirstWidebandPacket bool

	DefaultLanguage string
	DefaultVoice    string
}

// DefaultConfig returns the baseline orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		Processor:                 audio.DefaultProcessorConfig(),
		MinChunkDuration:          1000 * time.Millisecond,
		MinChunkRMS:               50,
		TranscribeTimeout:         30 * time.Second,
		RespondTimeout:            30 * time.Second,
		IgnoreFirstWidebandPacket: true,
		DefaultLanguage:           "en",
		DefaultVoice:              "default",
	}
}

// Stats aggregates orchestrator activity across all calls.
type Stats struct {
	ActiveCalls          int    `json:"active_calls"`
	TotalCalls           uint64 `json:"total_calls"`
	ChunksFlushed        uint64 `json:"chunks_flushed"`
	ChunksRejected       uint64 `json:"chunks_rejected"`
	Transcriptions       uint64 `json:"transcriptions"`
	HallucinationsCaught uint64 `json:"hallucinations_caught"`
	Responses            uint64 `json:"responses"`
	ResponseFailures     uint64 `json:"response_failures"`
}

// Orchestrator drives the per-call conversation loop: it accumulates
// inbound audio, decides when an utterance is complete, transcribes it and
// plays the generated response back through the gateway.
type Orchestrator struct {
	cfg         Config
	transcriber Transcriber
	responder   Responder
	control     ControlSender
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu    sync.RWMutex
	calls map[string]*Call

	totalCalls       atomic.Uint64
	chunksFlushed    atomic.Uint64
	chunksRejected   atomic.Uint64
	transcriptions   atomic.Uint64
	hallucinations   atomic.Uint64
	responses        atomic.Uint64
	responseFailures atomic.Uint64
}

// NewOrchestrator creates a session orchestrator. The responder and
// control sender may be nil, in which case transcriptions are logged but
// no playback is generated.
func NewOrchestrator(cfg Config, transcriber Transcriber, responder Responder, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	if cfg.RespondTimeout <= 0 {
		cfg.RespondTimeout = 30 * time.Second
	}

	return &Orchestrator{
		cfg:         cfg,
		transcriber: transcriber,
		responder:   responder,
		metrics:     m,
		logger:      logger,
		calls:       make(map[string]*Call),
	}
}

// SetControlSender wires the outbound control path. Called after the
// relay exists because the relay also needs the orchestrator as its
// event handler.
func (o *Orchestrator) SetControlSender(cs ControlSender) {
	o.control = cs
}

// OnStreamStart registers a new call. A duplicate start for a live call is
// logged and ignored, keeping the existing state intact.
func (o *Orchestrator) OnStreamStart(ucid, did string) {
	o.mu.Lock()
	if _, exists := o.calls[ucid]; exists {
		o.mu.Unlock()
		o.logger.Warn("duplicate start for live call",
			slog.String("ucid", ucid),
			slog.String("did", did),
		)
		return
	}

	proc := audio.NewProcessor(o.cfg.Processor, o.logger.With(slog.String("ucid", ucid)))
	call := newCall(ucid, did, proc, o.cfg.DefaultLanguage, o.cfg.DefaultVoice)
	o.calls[ucid] = call
	active := len(o.calls)
	o.mu.Unlock()

	o.totalCalls.Add(1)
	o.metrics.RecordCallStarted()
	o.metrics.SetActiveCalls(active)

	o.logger.Info("call started",
		slog.String("ucid", ucid),
		slog.String("did", did),
		slog.Int("active_calls", active),
	)
}

// OnMediaPacket feeds one inbound audio frame into the call's accumulator
// and starts the transcription pipeline when an utterance is complete.
func (o *Orchestrator) OnMediaPacket(ucid string, samples []int16, sampleRate int) {
	call := o.lookup(ucid)
	if call == nil {
		o.logger.Debug("media for unknown call", slog.String("ucid", ucid))
		return
	}
	if call.Ended() {
		return
	}

	if call.firstMediaSeen.CompareAndSwap(false, true) {
		if o.cfg.IgnoreFirstWidebandPacket && sampleRate == protocol.SetupArtifactSampleRate {
			o.logger.Debug("discarding wideband setup packet",
				slog.String("ucid", ucid),
				slog.Int("sample_rate", sampleRate),
			)
			return
		}
	}

	call.packetsReceived.Add(1)
	call.processor.AddSamples(samples, sampleRate)

	if !call.processor.ShouldFlush() {
		return
	}
	if call.playingBack.Load() {
		return
	}
	if !call.transcribing.CompareAndSwap(false, true) {
		return
	}

	go o.runTranscribePipeline(call)
}

// OnStreamEnd tears down a call. Safe to call more than once for the same
// ucid; only the first call performs the teardown.
func (o *Orchestrator) OnStreamEnd(ucid string) {
	call := o.lookup(ucid)
	if call == nil {
		o.logger.Debug("stop for unknown call", slog.String("ucid", ucid))
		return
	}
	if !call.markEnded() {
		o.logger.Debug("stop for already ended call", slog.String("ucid", ucid))
		return
	}

	o.mu.Lock()
	delete(o.calls, ucid)
	active := len(o.calls)
	o.mu.Unlock()

	duration := time.Since(call.StartTime)
	o.metrics.RecordCallEnded(duration.Seconds())
	o.metrics.SetActiveCalls(active)

	o.logger.Info("call ended",
		slog.String("ucid", ucid),
		slog.String("did", call.DID),
		slog.Float64("duration_seconds", duration.Seconds()),
		slog.Uint64("packets_received", call.packetsReceived.Load()),
		slog.Uint64("chunks_flushed", call.chunksFlushed.Load()),
		slog.Uint64("responses", call.responses.Load()),
		slog.Int("active_calls", active),
	)

	// Final utterance: transcribe whatever the caller said just before
	// hanging up, if it clears the gates and no pipeline is running. The
	// transcript summary waits for that pipeline so the last utterance is
	// part of it.
	if call.processor.Duration() >= o.cfg.MinChunkDuration &&
		call.transcribing.CompareAndSwap(false, true) {
		go func() {
			o.runTranscribePipeline(call)
			o.logTranscript(call)
		}()
		return
	}
	o.logTranscript(call)
}

// logTranscript emits one call's accumulated transcript once no further
// transcriptions can be appended to it.
func (o *Orchestrator) logTranscript(call *Call) {
	o.logger.Info("call transcript",
		slog.String("ucid", call.UCID),
		slog.String("detected_language", call.transcript.DetectedLanguage()),
		slog.Uint64("transcriptions", call.transcriptions.Load()),
		slog.String("transcript", call.transcript.Joined()),
	)
}

// OnControl applies a control command to a live call. Recognized commands
// are handled locally; anything else is forwarded to the gateway
// best-effort.
func (o *Orchestrator) OnControl(ucid, command string, params map[string]any) error {
	call := o.lookup(ucid)
	if call == nil {
		return fmt.Errorf("no live call with ucid %q", ucid)
	}

	switch command {
	case "set_language":
		language, ok := params["language"].(string)
		if !ok || language == "" {
			return fmt.Errorf("set_language requires a language param")
		}
		call.SetLanguage(language)
		o.logger.Info("language changed",
			slog.String("ucid", ucid),
			slog.String("language", language),
		)

	case "set_voice":
		voice, ok := params["voice"].(string)
		if !ok || voice == "" {
			return fmt.Errorf("set_voice requires a voice param")
		}
		call.SetVoice(voice)
		o.logger.Info("voice changed",
			slog.String("ucid", ucid),
			slog.String("voice", voice),
		)

	case "pause_transcription":
		// Holding the transcribing flag keeps the pipeline from starting
		// while audio continues to accumulate.
		call.transcribing.Store(true)
		o.logger.Info("transcription paused", slog.String("ucid", ucid))

	case "resume_transcription":
		call.transcribing.Store(false)
		o.logger.Info("transcription resumed", slog.String("ucid", ucid))

	default:
		if o.control == nil {
			return fmt.Errorf("unknown control command %q", command)
		}
		if err := o.control.SendControl(ucid, command, params); err != nil {
			return fmt.Errorf("forwarding control command %q: %w", command, err)
		}
		o.logger.Info("control command forwarded to gateway",
			slog.String("ucid", ucid),
			slog.String("command", command),
		)
	}

	return nil
}

// runTranscribePipeline drains the call's audio buffer through the quality
// gates, the transcriber and the hallucination filter, then hands the text
// to the responder. The transcribing flag is held for the whole pipeline
// and always released, including on error.
func (o *Orchestrator) runTranscribePipeline(call *Call) {
	defer call.transcribing.Store(false)

	// One atomic drain: the quality gates judge exactly the samples the
	// WAV encodes, and packets arriving meanwhile open the next chunk.
	wavData, chunkDuration, chunkRMS, err := call.processor.Drain()
	if err != nil {
		o.logger.Debug("empty buffer at flush", slog.String("ucid", call.UCID))
		return
	}

	if chunkDuration < o.cfg.MinChunkDuration || chunkRMS < o.cfg.MinChunkRMS {
		o.chunksRejected.Add(1)
		o.metrics.RecordChunkRejected()
		o.logger.Debug("chunk rejected by quality gate",
			slog.String("ucid", call.UCID),
			slog.Int64("duration_ms", chunkDuration.Milliseconds()),
			slog.Float64("rms", chunkRMS),
		)
		return
	}

	call.chunksFlushed.Add(1)
	o.chunksFlushed.Add(1)
	o.metrics.RecordChunkFlushed(chunkDuration.Seconds())

	language := call.Language()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TranscribeTimeout)
	defer cancel()

	result, err := o.transcriber.Transcribe(ctx, wavData, language)
	if err != nil {
		o.logger.Error("transcription failed",
			slog.String("ucid", call.UCID),
			slog.Int64("duration_ms", chunkDuration.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return
	}

	if IsHallucination(result.Text) {
		o.hallucinations.Add(1)
		o.metrics.RecordHallucination()
		o.logger.Debug("hallucination dropped",
			slog.String("ucid", call.UCID),
			slog.String("text", result.Text),
		)
		return
	}

	call.transcript.Append(result.Text)
	if result.Language != "" {
		call.transcript.SetDetectedLanguage(result.Language)
	}
	call.transcriptions.Add(1)
	o.transcriptions.Add(1)

	o.logger.Info("transcription accepted",
		slog.String("ucid", call.UCID),
		slog.String("text", result.Text),
		slog.String("language", language),
		slog.Int64("audio_ms", chunkDuration.Milliseconds()),
	)

	if o.responder == nil || call.Ended() {
		return
	}
	if !call.playingBack.CompareAndSwap(false, true) {
		return
	}
	go o.runRespondPipeline(call, result.Text)
}

// runRespondPipeline streams a generated response back to the caller. The
// playingBack flag suppresses new transcriptions until playback finishes.
func (o *Orchestrator) runRespondPipeline(call *Call, text string) {
	defer call.playingBack.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RespondTimeout)
	defer cancel()

	o.metrics.RecordPlaybackRequest()

	opts := ResponderOptions{Language: call.Language(), Voice: call.Voice()}
	if err := o.responder.Respond(ctx, call.UCID, text, opts); err != nil {
		o.responseFailures.Add(1)
		o.metrics.RecordPlaybackFailure()
		o.logger.Error("response playback failed",
			slog.String("ucid", call.UCID),
			slog.String("error", err.Error()),
		)
		return
	}

	call.responses.Add(1)
	o.responses.Add(1)
}

// lookup returns the live call for a ucid, or nil.
func (o *Orchestrator) lookup(ucid string) *Call {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.calls[ucid]
}

// CallCount returns the number of live calls.
func (o *Orchestrator) CallCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.calls)
}

// Calls returns snapshots of all live calls without transcripts.
func (o *Orchestrator) Calls() []CallInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	infos := make([]CallInfo, 0, len(o.calls))
	for _, call := range o.calls {
		infos = append(infos, call.Info(false))
	}
	return infos
}

// CallInfo returns the detailed snapshot of one live call, including its
// transcript.
func (o *Orchestrator) CallInfo(ucid string) (CallInfo, bool) {
	call := o.lookup(ucid)
	if call == nil {
		return CallInfo{}, false
	}
	return call.Info(true), true
}

// GetStats returns aggregate activity counters.
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		ActiveCalls:          o.CallCount(),
		TotalCalls:           o.totalCalls.Load(),
		ChunksFlushed:        o.chunksFlushed.Load(),
		ChunksRejected:       o.chunksRejected.Load(),
		Transcriptions:       o.transcriptions.Load(),
		HallucinationsCaught: o.hallucinations.Load(),
		Responses:            o.responses.Load(),
		ResponseFailures:     o.responseFailures.Load(),
	}
}

// Shutdown ends every live call. Used during graceful shutdown.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	ucids := make([]string, 0, len(o.calls))
	for ucid := range o.calls {
		ucids = append(ucids, ucid)
	}
	o.mu.RUnlock()

	for _, ucid := range ucids {
		o.OnStreamEnd(ucid)
	}
}
