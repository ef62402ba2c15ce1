package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rajeshganji/voxflow/internal/config"
	"github.com/rajeshganji/voxflow/internal/metrics"
	"github.com/rajeshganji/voxflow/internal/relay"
	"github.com/rajeshganji/voxflow/internal/session"
	"github.com/rajeshganji/voxflow/internal/transcription"
)

// Server is the monitoring and control API.
type Server struct {
	httpServer   *http.Server
	orchestrator *session.Orchestrator
	relay        *relay.Relay
	transcriber  *transcription.Client
	cfg          *config.Config
	metrics      *metrics.Metrics
	logger       *slog.Logger
	startTime    time.Time
}

// New creates the monitoring API server.
func New(cfg *config.Config, orch *session.Orchestrator, rel *relay.Relay, tr *transcription.Client, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orchestrator: orch,
		relay:        rel,
		transcriber:  tr,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /calls", s.handleCalls)
	mux.HandleFunc("GET /calls/{ucid}", s.handleCallDetail)
	mux.HandleFunc("POST /calls/{ucid}/control", s.handleCallControl)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      s.metricsMiddleware(mux),
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
	}

	return s
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("monitoring API listening", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// responseWriter captures the status code for the metrics middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), time.Since(start).Seconds())
		if rw.statusCode >= 500 {
			s.metrics.RecordHTTPError(r.Method, r.URL.Path, "server_error")
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "voxflow",
		"endpoints": []string{
			"/health",
			"/calls",
			"/calls/{ucid}",
			"/calls/{ucid}/control",
			"/config",
			"/stats",
			"/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"active_calls":   s.orchestrator.CallCount(),
		"connections":    s.relay.ConnectionCount(),
	})
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.orchestrator.Calls()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(calls),
		"calls": calls,
	})
}

func (s *Server) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	ucid := r.PathValue("ucid")
	info, ok := s.orchestrator.CallInfo(ucid)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no live call with that ucid")
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// controlRequest is the body of a control command.
type controlRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

func (s *Server) handleCallControl(w http.ResponseWriter, r *http.Request) {
	ucid := r.PathValue("ucid")

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	if err := s.orchestrator.OnControl(ucid, req.Command, req.Params); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("control command applied",
		slog.String("ucid", ucid),
		slog.String("command", req.Command),
	)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Sanitized())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"relay":          s.relay.Status(),
		"session":        s.orchestrator.GetStats(),
	}
	if s.transcriber != nil {
		stats["transcription"] = s.transcriber.GetStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}
