package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rajeshganji/voxflow/internal/config"
	"github.com/rajeshganji/voxflow/internal/relay"
	"github.com/rajeshganji/voxflow/internal/session"
	"github.com/rajeshganji/voxflow/internal/transcription"
)

type noopTranscriber struct{}

func (noopTranscriber) Transcribe(ctx context.Context, wavData []byte, language string) (*transcription.Result, error) {
	return &transcription.Result{Text: "ok"}, nil
}

func testServer(t *testing.T) (*Server, *session.Orchestrator) {
	t.Helper()

	orch := session.NewOrchestrator(session.DefaultConfig(), noopTranscriber{}, nil, nil, nil)
	rel := relay.New(relay.DefaultConfig(), nil, nil)
	rel.SetHandler(orch)

	return New(config.Default(), orch, rel, nil, nil, nil), orch
}

func (s *Server) serve(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, orch := testServer(t)
	orch.OnStreamStart("call-1", "1000")

	rec := s.serve(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
	if body["active_calls"] != float64(1) {
		t.Errorf("Expected 1 active call, got %v", body["active_calls"])
	}
}

func TestCallsEndpoint(t *testing.T) {
	s, orch := testServer(t)
	orch.OnStreamStart("call-1", "1000")
	orch.OnStreamStart("call-2", "2000")

	rec := s.serve(t, http.MethodGet, "/calls", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Count int                `json:"count"`
		Calls []session.CallInfo `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("Expected 2 calls, got %d", body.Count)
	}
}

func TestCallDetailEndpoint(t *testing.T) {
	s, orch := testServer(t)
	orch.OnStreamStart("call-1", "1000")

	rec := s.serve(t, http.MethodGet, "/calls/call-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var info session.CallInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if info.UCID != "call-1" || info.DID != "1000" {
		t.Errorf("Unexpected call info: %+v", info)
	}

	rec = s.serve(t, http.MethodGet, "/calls/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown call, got %d", rec.Code)
	}
}

func TestControlEndpoint(t *testing.T) {
	s, orch := testServer(t)
	orch.OnStreamStart("call-1", "1000")

	rec := s.serve(t, http.MethodPost, "/calls/call-1/control",
		`{"command":"set_language","params":{"language":"uk"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	info, _ := orch.CallInfo("call-1")
	if info.Language != "uk" {
		t.Errorf("Expected language uk, got %s", info.Language)
	}
}

func TestControlEndpointValidation(t *testing.T) {
	s, orch := testServer(t)
	orch.OnStreamStart("call-1", "1000")

	rec := s.serve(t, http.MethodPost, "/calls/call-1/control", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad JSON, got %d", rec.Code)
	}

	rec = s.serve(t, http.MethodPost, "/calls/call-1/control", `{"params":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing command, got %d", rec.Code)
	}

	rec = s.serve(t, http.MethodPost, "/calls/ghost/control", `{"command":"set_language","params":{"language":"uk"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown call, got %d", rec.Code)
	}
}

func TestConfigEndpointIsSanitized(t *testing.T) {
	s, _ := testServer(t)

	rec := s.serve(t, http.MethodGet, "/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "url") {
		t.Error("Config endpoint must not expose backend URLs")
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := testServer(t)

	rec := s.serve(t, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if _, ok := body["relay"]; !ok {
		t.Error("Expected relay section in stats")
	}
	if _, ok := body["session"]; !ok {
		t.Error("Expected session section in stats")
	}
}

func TestIndexAndNotFound(t *testing.T) {
	s, _ := testServer(t)

	rec := s.serve(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for index, got %d", rec.Code)
	}

	rec = s.serve(t, http.MethodGet, "/no/such/path", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}
}
