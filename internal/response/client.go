// Package response is the HTTP client for the conversation backend that
// turns transcribed text into spoken replies.
package response

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rajeshganji/voxflow/internal/audio"
	"github.com/rajeshganji/voxflow/internal/session"
)

// AudioSink delivers decoded playback PCM to a live call. It reports
// whether the call was still mapped to a connection.
type AudioSink func(ucid string, samples []int16, sampleRate int) bool

// ClientConfig tunes the response HTTP client.
type ClientConfig struct {
	URL     string
	Timeout time.Duration

	// MaxResponseBytes caps the WAV body read from the backend.
	MaxResponseBytes int64
}

// DefaultClientConfig returns the baseline client tuning.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		Timeout:          30 * time.Second,
		MaxResponseBytes: 16 << 20,
	}
}

// Client asks the conversation backend for a spoken reply and pushes the
// decoded audio into the relay for playback.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	sink       AudioSink
	logger     *slog.Logger
}

// NewClient creates a response client. The sink receives decoded PCM and
// is typically the relay's SendAudio.
func NewClient(cfg ClientConfig, sink AudioSink, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 16 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sink:       sink,
		logger:     logger,
	}
}

// request is the JSON body sent to the conversation backend.
type request struct {
	UCID     string `json:"ucid"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Voice    string `json:"voice,omitempty"`
}

// Respond sends the transcribed utterance to the backend, decodes the WAV
// reply and streams it to the caller through the sink.
func (c *Client) Respond(ctx context.Context, ucid, text string, opts session.ResponderOptions) error {
	body, err := json.Marshal(request{
		UCID:     ucid,
		Text:     text,
		Language: opts.Language,
		Voice:    opts.Voice,
	})
	if err != nil {
		return fmt.Errorf("encoding response request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("response backend returned %d: %s", resp.StatusCode, errBody)
	}

	wavData, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	samples, sampleRate, err := audio.DecodeWAV(wavData)
	if err != nil {
		return fmt.Errorf("decoding response audio: %w", err)
	}

	c.logger.Info("response audio received",
		slog.String("ucid", ucid),
		slog.Int("samples", len(samples)),
		slog.Int("sample_rate", sampleRate),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	if !c.sink(ucid, samples, sampleRate) {
		return fmt.Errorf("call %s no longer mapped, playback dropped", ucid)
	}
	return nil
}
