package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rajeshganji/voxflow/internal/audio"
	"github.com/rajeshganji/voxflow/internal/config"
	"github.com/rajeshganji/voxflow/internal/metrics"
	"github.com/rajeshganji/voxflow/internal/relay"
	"github.com/rajeshganji/voxflow/internal/response"
	"github.com/rajeshganji/voxflow/internal/server"
	"github.com/rajeshganji/voxflow/internal/session"
	"github.com/rajeshganji/voxflow/internal/transcription"
)

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger := initLogger(cfg.Logging)
	logger.Info("starting voxflow",
		slog.String("gateway_mode", cfg.Gateway.Mode),
		slog.String("http_addr", cfg.HTTP.Addr()),
	)

	m := metrics.NewMetrics()

	transcriber := transcription.NewClient(transcription.ClientConfig{
		URL:            cfg.Transcription.URL,
		Timeout:        cfg.Transcription.GetTimeout(),
		MaxRetries:     cfg.Transcription.MaxRetries,
		RetryDelay:     cfg.Transcription.GetRetryDelay(),
		MaxConcurrency: cfg.Transcription.MaxConcurrency,
	}, m, logger)

	rel := relay.New(relay.Config{
		Endpoint:     cfg.Relay.Endpoint,
		GracePeriod:  cfg.Relay.GetGracePeriod(),
		QueueSize:    cfg.Relay.QueueSize,
		ReadLimit:    cfg.Relay.ReadLimitBytes,
		WriteTimeout: cfg.Relay.GetWriteTimeout(),
	}, m, logger)

	var responder session.Responder
	if cfg.Response.URL != "" {
		responder = response.NewClient(response.ClientConfig{
			URL:              cfg.Response.URL,
			Timeout:          cfg.Response.GetTimeout(),
			MaxResponseBytes: cfg.Response.MaxResponseBytes,
		}, rel.SendAudio, logger)
	} else {
		logger.Warn("response backend not configured, playback disabled")
	}

	orch := session.NewOrchestrator(session.Config{
		Processor:                 processorConfig(cfg.Audio),
		MinChunkDuration:          cfg.Audio.GetMinChunkDuration(),
		MinChunkRMS:               cfg.Audio.MinChunkRMS,
		TranscribeTimeout:         cfg.Transcription.GetTimeout(),
		RespondTimeout:            cfg.Response.GetTimeout(),
		IgnoreFirstWidebandPacket: cfg.Audio.IgnoreFirstWidebandPacket,
		DefaultLanguage:           cfg.Audio.DefaultLanguage,
		DefaultVoice:              cfg.Audio.DefaultVoice,
	}, transcriber, responder, m, logger)
	orch.SetControlSender(rel)
	rel.SetHandler(orch)

	apiServer := server.New(cfg, orch, rel, transcriber, m, logger)

	errCh := make(chan error, 3)

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("monitoring API: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gatewayServer *http.Server
	switch cfg.Gateway.Mode {
	case "dial":
		dialer := relay.NewDialer(relay.DialerConfig{
			URL:               cfg.Gateway.DialURL,
			ReconnectInterval: cfg.Gateway.GetReconnectInterval(),
			DialTimeout:       cfg.Gateway.GetDialTimeout(),
		}, rel, logger)
		go dialer.Run(ctx)

	default: // listen
		gatewayServer = &http.Server{
			Addr:    cfg.Gateway.ListenAddr(),
			Handler: rel,
		}
		go func() {
			logger.Info("gateway websocket listening", slog.String("addr", gatewayServer.Addr))
			if err := gatewayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("gateway listener: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("fatal error", slog.String("error", err.Error()))
		cancel()
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if gatewayServer != nil {
		if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("gateway listener shutdown", slog.String("error", err.Error()))
		}
	}
	rel.Close()
	orch.Shutdown()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("monitoring API shutdown", slog.String("error", err.Error()))
	}

	logger.Info("shutdown complete")
	return nil
}

func processorConfig(cfg config.AudioConfig) audio.ProcessorConfig {
	return audio.ProcessorConfig{
		MinAudioDuration: cfg.GetMinAudioDuration(),
		MaxAudioDuration: cfg.GetMaxAudioDuration(),
		SilenceThreshold: cfg.GetSilenceThreshold(),
		SilenceAmplitude: cfg.SilenceAmplitude,
		SampleRate:       cfg.SampleRate,
		BitsPerSample:    16,
		Channels:         1,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voxflow: %v\n", err)
		os.Exit(1)
	}
}
