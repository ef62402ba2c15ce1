package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseInboundStart(t *testing.T) {
	raw := []byte(`{"event":"start","ucid":"call-123","did":"1000"}`)

	ev, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}

	start, ok := ev.(*StartEvent)
	if !ok {
		t.Fatalf("Expected *StartEvent, got %T", ev)
	}
	if start.UCID != "call-123" {
		t.Errorf("Expected ucid call-123, got %s", start.UCID)
	}
	if start.DID != "1000" {
		t.Errorf("Expected did 1000, got %s", start.DID)
	}
	if start.EventName() != EventStart {
		t.Errorf("Expected event name %q, got %q", EventStart, start.EventName())
	}
}

func TestParseInboundMedia(t *testing.T) {
	raw := []byte(`{
		"event": "media",
		"ucid": "call-123",
		"data": {
			"samples": [100, -100, 200, -200],
			"bitsPerSample": 16,
			"sampleRate": 8000,
			"channelCount": 1,
			"numberOfFrames": 4,
			"type": "data"
		}
	}`)

	ev, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}

	media, ok := ev.(*MediaEvent)
	if !ok {
		t.Fatalf("Expected *MediaEvent, got %T", ev)
	}
	if media.UCID != "call-123" {
		t.Errorf("Expected ucid call-123, got %s", media.UCID)
	}
	if len(media.Data.Samples) != 4 {
		t.Errorf("Expected 4 samples, got %d", len(media.Data.Samples))
	}
	if media.Data.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", media.Data.SampleRate)
	}
	if media.Data.Samples[1] != -100 {
		t.Errorf("Expected second sample -100, got %d", media.Data.Samples[1])
	}
}

func TestParseInboundMediaDefaultsSampleRate(t *testing.T) {
	raw := []byte(`{"event":"media","ucid":"call-123","data":{"samples":[1,2,3]}}`)

	ev, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}

	media := ev.(*MediaEvent)
	if media.Data.SampleRate != DefaultSampleRate {
		t.Errorf("Expected default sample rate %d, got %d", DefaultSampleRate, media.Data.SampleRate)
	}
}

func TestParseInboundStop(t *testing.T) {
	raw := []byte(`{"event":"stop","ucid":"call-123","did":"1000"}`)

	ev, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}

	if _, ok := ev.(*StopEvent); !ok {
		t.Fatalf("Expected *StopEvent, got %T", ev)
	}
	if ev.CallID() != "call-123" {
		t.Errorf("Expected call id call-123, got %s", ev.CallID())
	}
}

func TestParseInboundErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"unknown event", `{"event":"resume","ucid":"call-1"}`, ErrUnknownEvent},
		{"missing ucid", `{"event":"start"}`, ErrMissingUCID},
		{"media without data", `{"event":"media","ucid":"call-1"}`, ErrMissingData},
		{"media with empty samples", `{"event":"media","ucid":"call-1","data":{"samples":[]}}`, ErrEmptySamples},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound([]byte(tt.raw))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseInboundMalformedJSON(t *testing.T) {
	_, err := ParseInbound([]byte(`{"event":"start"`))
	if err == nil {
		t.Fatal("Expected error for malformed JSON, got nil")
	}
}

func TestNewMediaPacket(t *testing.T) {
	samples := make([]int16, PacketSamples)
	for i := range samples {
		samples[i] = int16(i)
	}

	pkt, err := NewMediaPacket("call-123", samples, DefaultSampleRate)
	if err != nil {
		t.Fatalf("NewMediaPacket failed: %v", err)
	}

	data, err := json.Marshal(pkt)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["type"] != "media" {
		t.Errorf("Expected type media, got %v", decoded["type"])
	}
	if decoded["ucid"] != "call-123" {
		t.Errorf("Expected ucid call-123, got %v", decoded["ucid"])
	}

	inner, ok := decoded["data"].(map[string]any)
	if !ok {
		t.Fatal("Expected data object in packet")
	}
	for _, field := range []string{"samples", "bitsPerSample", "sampleRate", "channelCount", "numberOfFrames", "type"} {
		if _, present := inner[field]; !present {
			t.Errorf("Missing data field %q", field)
		}
	}
	if inner["numberOfFrames"] != float64(PacketSamples) {
		t.Errorf("Expected numberOfFrames %d, got %v", PacketSamples, inner["numberOfFrames"])
	}
	if inner["type"] != "data" {
		t.Errorf("Expected data type marker, got %v", inner["type"])
	}
}

func TestNewMediaPacketValidation(t *testing.T) {
	samples := make([]int16, PacketSamples)

	if _, err := NewMediaPacket("", samples, DefaultSampleRate); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("Expected ErrInvalidPacket for empty ucid, got %v", err)
	}
	if _, err := NewMediaPacket("call-1", samples[:100], DefaultSampleRate); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("Expected ErrInvalidPacket for short packet, got %v", err)
	}
}

func TestControlMessageFlattensParams(t *testing.T) {
	msg := ControlMessage{
		UCID:    "call-123",
		Command: "set_language",
		Params:  map[string]any{"language": "uk"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["event"] != "control" {
		t.Errorf("Expected event control, got %v", decoded["event"])
	}
	if decoded["ucid"] != "call-123" {
		t.Errorf("Expected ucid call-123, got %v", decoded["ucid"])
	}
	if decoded["command"] != "set_language" {
		t.Errorf("Expected command set_language, got %v", decoded["command"])
	}
	if decoded["language"] != "uk" {
		t.Errorf("Expected flattened language param, got %v", decoded["language"])
	}
	if _, present := decoded["params"]; present {
		t.Error("Params must be flattened, not nested")
	}
}

func TestControlMessageParamsCannotShadowEnvelope(t *testing.T) {
	msg := ControlMessage{
		UCID:    "call-123",
		Command: "set_voice",
		Params:  map[string]any{"ucid": "spoofed", "voice": "anna"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if !strings.Contains(string(data), `"ucid":"call-123"`) {
		t.Errorf("Envelope ucid must win over params, got %s", data)
	}
}
