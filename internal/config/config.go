package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Relay         RelayConfig         `yaml:"relay"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Response      ResponseConfig      `yaml:"response"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// RelayConfig tunes the websocket relay.
type RelayConfig struct {
	Endpoint       string `yaml:"endpoint"`
	GracePeriodMs  int    `yaml:"grace_period_ms"`
	QueueSize      int    `yaml:"queue_size"`
	ReadLimitBytes int64  `yaml:"read_limit_bytes"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// GatewayConfig selects how the gateway connection is established.
// In "listen" mode the gateway dials us; in "dial" mode we maintain an
// outbound connection to the gateway.
type GatewayConfig struct {
	Mode                string `yaml:"mode"`
	ListenHost          string `yaml:"listen_host"`
	ListenPort          int    `yaml:"listen_port"`
	DialURL             string `yaml:"dial_url"`
	ReconnectIntervalMs int    `yaml:"reconnect_interval_ms"`
	DialTimeoutMs       int    `yaml:"dial_timeout_ms"`
}

// HTTPConfig tunes the monitoring API server.
type HTTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// AudioConfig tunes the per-call accumulator and the quality gates.
type AudioConfig struct {
	SampleRate                int     `yaml:"sample_rate"`
	MinAudioDurationMs        int     `yaml:"min_audio_duration_ms"`
	MaxAudioDurationMs        int     `yaml:"max_audio_duration_ms"`
	SilenceThresholdMs        int     `yaml:"silence_threshold_ms"`
	SilenceAmplitude          float64 `yaml:"silence_amplitude"`
	MinChunkDurationMs        int     `yaml:"min_chunk_duration_ms"`
	MinChunkRMS               float64 `yaml:"min_chunk_rms"`
	IgnoreFirstWidebandPacket bool    `yaml:"ignore_first_wideband_packet"`
	DefaultLanguage           string  `yaml:"default_language"`
	DefaultVoice              string  `yaml:"default_voice"`
}

// TranscriptionConfig tunes the speech service client.
type TranscriptionConfig struct {
	URL            string `yaml:"url"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryDelayMs   int    `yaml:"retry_delay_ms"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

// ResponseConfig tunes the conversation backend client. Response playback
// is disabled when the URL is empty.
type ResponseConfig struct {
	URL              string `yaml:"url"`
	TimeoutMs        int    `yaml:"timeout_ms"`
	MaxResponseBytes int64  `yaml:"max_response_bytes"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Endpoint:       "/stream",
			GracePeriodMs:  10000,
			QueueSize:      256,
			ReadLimitBytes: 1 << 20,
			WriteTimeoutMs: 5000,
		},
		Gateway: GatewayConfig{
			Mode:                "listen",
			ListenHost:          "0.0.0.0",
			ListenPort:          8081,
			ReconnectIntervalMs: 5000,
			DialTimeoutMs:       10000,
		},
		HTTP: HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeoutMs:  10000,
			WriteTimeoutMs: 10000,
		},
		Audio: AudioConfig{
			SampleRate:                8000,
			MinAudioDurationMs:        1000,
			MaxAudioDurationMs:        5000,
			SilenceThresholdMs:        1000,
			SilenceAmplitude:          100,
			MinChunkDurationMs:        1000,
			MinChunkRMS:               50,
			IgnoreFirstWidebandPacket: true,
			DefaultLanguage:           "en",
			DefaultVoice:              "default",
		},
		Transcription: TranscriptionConfig{
			URL:            "http://localhost:8000/transcribe",
			TimeoutMs:      30000,
			MaxRetries:     2,
			RetryDelayMs:   500,
			MaxConcurrency: 10,
		},
		Response: ResponseConfig{
			TimeoutMs:        30000,
			MaxResponseBytes: 16 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML configuration file over the defaults and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription: %w", err)
	}
	if err := c.Response.Validate(); err != nil {
		return fmt.Errorf("response: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Validate checks the relay section.
func (c *RelayConfig) Validate() error {
	if c.Endpoint == "" || c.Endpoint[0] != '/' {
		return fmt.Errorf("endpoint must be an absolute path, got %q", c.Endpoint)
	}
	if c.GracePeriodMs < 0 {
		return fmt.Errorf("grace_period_ms cannot be negative, got %d", c.GracePeriodMs)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	return nil
}

// Validate checks the gateway section.
func (c *GatewayConfig) Validate() error {
	switch c.Mode {
	case "listen":
		if c.ListenPort <= 0 || c.ListenPort > 65535 {
			return fmt.Errorf("listen_port must be 1-65535, got %d", c.ListenPort)
		}
	case "dial":
		if c.DialURL == "" {
			return fmt.Errorf("dial_url is required in dial mode")
		}
		if c.ReconnectIntervalMs <= 0 {
			return fmt.Errorf("reconnect_interval_ms must be positive, got %d", c.ReconnectIntervalMs)
		}
	default:
		return fmt.Errorf("mode must be listen or dial, got %q", c.Mode)
	}
	return nil
}

// Validate checks the http section.
func (c *HTTPConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	return nil
}

// Validate checks the audio section.
func (c *AudioConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.MinAudioDurationMs <= 0 {
		return fmt.Errorf("min_audio_duration_ms must be positive, got %d", c.MinAudioDurationMs)
	}
	if c.MaxAudioDurationMs < c.MinAudioDurationMs {
		return fmt.Errorf("max_audio_duration_ms (%d) cannot be below min_audio_duration_ms (%d)",
			c.MaxAudioDurationMs, c.MinAudioDurationMs)
	}
	if c.SilenceThresholdMs <= 0 {
		return fmt.Errorf("silence_threshold_ms must be positive, got %d", c.SilenceThresholdMs)
	}
	if c.SilenceAmplitude < 0 {
		return fmt.Errorf("silence_amplitude cannot be negative, got %f", c.SilenceAmplitude)
	}
	return nil
}

// Validate checks the transcription section.
func (c *TranscriptionConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	return nil
}

// Validate checks the response section.
func (c *ResponseConfig) Validate() error {
	if c.URL == "" {
		return nil // playback disabled
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	return nil
}

// Validate checks the logging section.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", c.Level)
	}
	switch c.Format {
	case "json", "text":
	default:
		return fmt.Errorf("format must be json or text, got %q", c.Format)
	}
	return nil
}

// GetGracePeriod returns the relay grace period.
func (c *RelayConfig) GetGracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// GetWriteTimeout returns the relay write timeout.
func (c *RelayConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// GetReconnectInterval returns the dialer reconnect interval.
func (c *GatewayConfig) GetReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
}

// GetDialTimeout returns the dialer handshake timeout.
func (c *GatewayConfig) GetDialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// ListenAddr returns the gateway listen address.
func (c *GatewayConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// Addr returns the monitoring API listen address.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetReadTimeout returns the monitoring API read timeout.
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// GetWriteTimeout returns the monitoring API write timeout.
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// GetMinAudioDuration returns the minimum utterance length.
func (c *AudioConfig) GetMinAudioDuration() time.Duration {
	return time.Duration(c.MinAudioDurationMs) * time.Millisecond
}

// GetMaxAudioDuration returns the forced flush bound.
func (c *AudioConfig) GetMaxAudioDuration() time.Duration {
	return time.Duration(c.MaxAudioDurationMs) * time.Millisecond
}

// GetSilenceThreshold returns the end-of-utterance silence duration.
func (c *AudioConfig) GetSilenceThreshold() time.Duration {
	return time.Duration(c.SilenceThresholdMs) * time.Millisecond
}

// GetMinChunkDuration returns the quality gate duration floor.
func (c *AudioConfig) GetMinChunkDuration() time.Duration {
	return time.Duration(c.MinChunkDurationMs) * time.Millisecond
}

// GetTimeout returns the transcription request timeout.
func (c *TranscriptionConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// GetRetryDelay returns the delay between transcription retries.
func (c *TranscriptionConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// GetTimeout returns the response request timeout.
func (c *ResponseConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Sanitized returns the configuration as a map safe to expose over the
// monitoring API.
func (c *Config) Sanitized() map[string]any {
	return map[string]any{
		"relay": map[string]any{
			"endpoint":        c.Relay.Endpoint,
			"grace_period_ms": c.Relay.GracePeriodMs,
			"queue_size":      c.Relay.QueueSize,
		},
		"gateway": map[string]any{
			"mode":        c.Gateway.Mode,
			"listen_addr": c.Gateway.ListenAddr(),
		},
		"audio": map[string]any{
			"sample_rate":           c.Audio.SampleRate,
			"min_audio_duration_ms": c.Audio.MinAudioDurationMs,
			"max_audio_duration_ms": c.Audio.MaxAudioDurationMs,
			"silence_threshold_ms":  c.Audio.SilenceThresholdMs,
			"silence_amplitude":     c.Audio.SilenceAmplitude,
			"default_language":      c.Audio.DefaultLanguage,
			"default_voice":         c.Audio.DefaultVoice,
		},
		"transcription": map[string]any{
			"timeout_ms":      c.Transcription.TimeoutMs,
			"max_retries":     c.Transcription.MaxRetries,
			"max_concurrency": c.Transcription.MaxConcurrency,
		},
		"response": map[string]any{
			"enabled":    c.Response.URL != "",
			"timeout_ms": c.Response.TimeoutMs,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
	}
}
