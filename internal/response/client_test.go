package response

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rajeshganji/voxflow/internal/audio"
	"github.com/rajeshganji/voxflow/internal/session"
)

func beepWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]int16, 2000)
	for i := range samples {
		samples[i] = int16(5000 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	data, err := audio.EncodeWAV(samples, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

func TestRespondDeliversAudio(t *testing.T) {
	wav := beepWAV(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Expected JSON body: %v", err)
		}
		if req["ucid"] != "call-1" {
			t.Errorf("Expected ucid call-1, got %q", req["ucid"])
		}
		if req["text"] != "hello" {
			t.Errorf("Expected text hello, got %q", req["text"])
		}
		if req["voice"] != "anna" {
			t.Errorf("Expected voice anna, got %q", req["voice"])
		}

		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer server.Close()

	var gotUCID string
	var gotSamples []int16
	var gotRate int
	sink := func(ucid string, samples []int16, sampleRate int) bool {
		gotUCID = ucid
		gotSamples = samples
		gotRate = sampleRate
		return true
	}

	client := NewClient(DefaultClientConfig(server.URL), sink, nil)

	opts := session.ResponderOptions{Language: "en", Voice: "anna"}
	if err := client.Respond(context.Background(), "call-1", "hello", opts); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if gotUCID != "call-1" {
		t.Errorf("Expected sink ucid call-1, got %q", gotUCID)
	}
	if len(gotSamples) != 2000 {
		t.Errorf("Expected 2000 samples, got %d", len(gotSamples))
	}
	if gotRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", gotRate)
	}
}

func TestRespondUnmappedCall(t *testing.T) {
	wav := beepWAV(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wav)
	}))
	defer server.Close()

	sink := func(ucid string, samples []int16, sampleRate int) bool { return false }
	client := NewClient(DefaultClientConfig(server.URL), sink, nil)

	if err := client.Respond(context.Background(), "gone", "hello", session.ResponderOptions{}); err == nil {
		t.Fatal("Expected error when the call is no longer mapped")
	}
}

func TestRespondBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), func(string, []int16, int) bool { return true }, nil)

	if err := client.Respond(context.Background(), "call-1", "hello", session.ResponderOptions{}); err == nil {
		t.Fatal("Expected error on backend failure")
	}
}

func TestRespondInvalidAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a wav file"))
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), func(string, []int16, int) bool { return true }, nil)

	if err := client.Respond(context.Background(), "call-1", "hello", session.ResponderOptions{}); err == nil {
		t.Fatal("Expected error on undecodable audio")
	}
}
