package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajeshganji/voxflow/internal/metrics"
)

// Result is one transcription returned by the speech service.
type Result struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ClientConfig tunes the transcription HTTP client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxConcurrency int
}

// DefaultClientConfig returns the baseline client tuning.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		RetryDelay:     500 * time.Millisecond,
		MaxConcurrency: 10,
	}
}

// ClientStats tracks request outcomes.
type ClientStats struct {
	RequestsSent    uint64        `json:"requests_sent"`
	RequestsSuccess uint64        `json:"requests_success"`
	RequestsFailed  uint64        `json:"requests_failed"`
	RetriesTotal    uint64        `json:"retries_total"`
	LastRequestTime time.Time     `json:"last_request_time"`
	LastError       string        `json:"last_error,omitempty"`
	AverageLatency  time.Duration `json:"average_latency"`
}

// Client sends WAV utterances to the speech service over HTTP multipart
// and parses the transcription response. A semaphore bounds concurrent
// in-flight requests across all calls.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	semaphore  chan struct{}
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu           sync.Mutex
	stats        ClientStats
	totalLatency time.Duration
}

// NewClient creates a transcription client.
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		semaphore:  make(chan struct{}, cfg.MaxConcurrency),
		metrics:    m,
		logger:     logger,
	}
}

// Transcribe uploads one WAV buffer and returns the transcription. Retries
// transient failures with exponential backoff up to MaxRetries times.
func (c *Client) Transcribe(ctx context.Context, wavData []byte, language string) (*Result, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for transcription slot: %w", ctx.Err())
	}

	start := time.Now()
	c.metrics.RecordTranscriptionRequest()

	requestID := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordTranscriptionRetry()
			c.recordRetry()
			// Exponential backoff: delay, 2*delay, 4*delay, ...
			select {
			case <-time.After(c.cfg.RetryDelay << (attempt - 1)):
			case <-ctx.Done():
				c.recordFailure(ctx.Err())
				c.metrics.RecordTranscriptionFailure(time.Since(start).Seconds())
				return nil, fmt.Errorf("transcription retry interrupted: %w", ctx.Err())
			}
			c.logger.Debug("retrying transcription request",
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
		}

		result, err := c.doRequest(ctx, wavData, language, requestID)
		if err == nil {
			elapsed := time.Since(start)
			c.recordSuccess(elapsed)
			c.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	elapsed := time.Since(start)
	c.recordFailure(lastErr)
	c.metrics.RecordTranscriptionFailure(elapsed.Seconds())
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// doRequest performs one multipart upload.
func (c *Client) doRequest(ctx context.Context, wavData []byte, language, requestID string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("writing audio data: %w", err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("writing language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, respBody)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// GetStats returns a snapshot of request statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	if stats.RequestsSuccess > 0 {
		stats.AverageLatency = c.totalLatency / time.Duration(stats.RequestsSuccess)
	}
	return stats
}

func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RequestsSent++
	c.stats.RequestsSuccess++
	c.stats.LastRequestTime = time.Now()
	c.totalLatency += latency
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RequestsSent++
	c.stats.RequestsFailed++
	c.stats.LastRequestTime = time.Now()
	if err != nil {
		c.stats.LastError = err.Error()
	}
}

func (c *Client) recordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RetriesTotal++
}
