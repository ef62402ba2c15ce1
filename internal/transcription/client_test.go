package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(url string) ClientConfig {
	cfg := DefaultClientConfig(url)
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

func TestTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart form: %v", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected file part: %v", err)
		} else {
			file.Close()
		}
		if lang := r.FormValue("language"); lang != "uk" {
			t.Errorf("Expected language uk, got %q", lang)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","language":"uk","confidence":0.93}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)

	result, err := client.Transcribe(context.Background(), []byte("fake-wav"), "uk")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("Expected text 'hello world', got %q", result.Text)
	}
	if result.Confidence != 0.93 {
		t.Errorf("Expected confidence 0.93, got %f", result.Confidence)
	}

	stats := client.GetStats()
	if stats.RequestsSuccess != 1 {
		t.Errorf("Expected 1 success, got %d", stats.RequestsSuccess)
	}
}

func TestTranscribeRetriesTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"second try"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)

	result, err := client.Transcribe(context.Background(), []byte("fake-wav"), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "second try" {
		t.Errorf("Expected 'second try', got %q", result.Text)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}

	stats := client.GetStats()
	if stats.RetriesTotal != 1 {
		t.Errorf("Expected 1 retry, got %d", stats.RetriesTotal)
	}
}

func TestTranscribeExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1
	client := NewClient(cfg, nil, nil)

	_, err := client.Transcribe(context.Background(), []byte("fake-wav"), "")
	if err == nil {
		t.Fatal("Expected error after exhausted retries")
	}

	stats := client.GetStats()
	if stats.RequestsFailed != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.RequestsFailed)
	}
	if stats.LastError == "" {
		t.Error("Expected LastError to be recorded")
	}
}

func TestTranscribeContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"text":"too late"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.Transcribe(ctx, []byte("fake-wav"), ""); err == nil {
		t.Fatal("Expected error on cancelled context")
	}
}
