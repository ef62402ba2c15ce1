package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rajeshganji/voxflow/internal/protocol"
)

// captureConn records every frame written to it.
func captureConn(id string) (*Connection, *[][]byte) {
	var mu sync.Mutex
	frames := &[][]byte{}
	conn := &Connection{
		ID:          id,
		ConnectedAt: time.Now(),
		writeOverride: func(ctx context.Context, data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			cp := make([]byte, len(data))
			copy(cp, data)
			*frames = append(*frames, cp)
			return nil
		},
	}
	return conn, frames
}

// recordingHandler collects handler callbacks for assertions. When hold is
// non-nil, OnMediaPacket parks until it is closed so tests can queue events
// behind a busy worker.
type recordingHandler struct {
	mu      sync.Mutex
	starts  []string
	packets map[string]int
	ends    []string
	done    chan struct{}
	entered chan struct{}
	hold    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		packets: make(map[string]int),
		done:    make(chan struct{}, 16),
		entered: make(chan struct{}, 16),
	}
}

func (h *recordingHandler) OnStreamStart(ucid, did string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, ucid)
}

func (h *recordingHandler) OnMediaPacket(ucid string, samples []int16, sampleRate int) {
	if h.hold != nil {
		h.entered <- struct{}{}
		<-h.hold
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.packets[ucid]++
}

func (h *recordingHandler) OnStreamEnd(ucid string) {
	h.mu.Lock()
	h.ends = append(h.ends, ucid)
	h.mu.Unlock()
	h.done <- struct{}{}
}

func testRelay(t *testing.T) *Relay {
	t.Helper()
	cfg := DefaultConfig()
	cfg.GracePeriod = 50 * time.Millisecond
	return New(cfg, nil, nil)
}

func TestSendAudioPacketizes(t *testing.T) {
	r := testRelay(t)
	conn, frames := captureConn("conn-1")
	r.registry.Bind("call-1", conn)

	// 950 samples at 8kHz: two full packets plus one padded
	samples := make([]int16, 950)
	for i := range samples {
		samples[i] = 1000
	}

	if !r.SendAudio("call-1", samples, 8000) {
		t.Fatal("Expected SendAudio to succeed for a bound call")
	}

	if len(*frames) != 3 {
		t.Fatalf("Expected 3 wire frames, got %d", len(*frames))
	}

	for i, frame := range *frames {
		var pkt protocol.MediaPacket
		if err := json.Unmarshal(frame, &pkt); err != nil {
			t.Fatalf("Frame %d is not a media packet: %v", i, err)
		}
		if pkt.Type != protocol.TypeMedia {
			t.Errorf("Frame %d: expected type media, got %q", i, pkt.Type)
		}
		if pkt.UCID != "call-1" {
			t.Errorf("Frame %d: expected ucid call-1, got %q", i, pkt.UCID)
		}
		if len(pkt.Data.Samples) != protocol.PacketSamples {
			t.Errorf("Frame %d: expected %d samples, got %d", i, protocol.PacketSamples, len(pkt.Data.Samples))
		}
		if pkt.Data.SampleRate != 8000 {
			t.Errorf("Frame %d: expected sample rate 8000, got %d", i, pkt.Data.SampleRate)
		}
	}
}

func TestSendAudioUnboundCall(t *testing.T) {
	r := testRelay(t)

	if r.SendAudio("nobody", []int16{1, 2, 3}, 8000) {
		t.Error("Expected SendAudio to report failure for an unbound call")
	}
}

func TestSendAudioUpdatesCrossfadeState(t *testing.T) {
	r := testRelay(t)
	conn, _ := captureConn("conn-1")
	r.registry.Bind("call-1", conn)

	samples := make([]int16, 400)
	for i := range samples {
		samples[i] = 2000
	}

	if !r.SendAudio("call-1", samples, 8000) {
		t.Fatal("SendAudio failed")
	}

	// DC removal centers a constant chunk at zero, so the recorded state
	// reflects the shaped audio, not the raw input
	if got := r.registry.LastSample("call-1"); got != 0 {
		t.Errorf("Expected crossfade state 0 after constant chunk, got %d", got)
	}
}

func TestSendControl(t *testing.T) {
	r := testRelay(t)
	conn, frames := captureConn("conn-1")
	r.registry.Bind("call-1", conn)

	err := r.SendControl("call-1", "mute", map[string]any{"reason": "operator"})
	if err != nil {
		t.Fatalf("SendControl failed: %v", err)
	}

	if len(*frames) != 1 {
		t.Fatalf("Expected 1 wire frame, got %d", len(*frames))
	}

	var decoded map[string]any
	if err := json.Unmarshal((*frames)[0], &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["event"] != "control" {
		t.Errorf("Expected event control, got %v", decoded["event"])
	}
	if decoded["command"] != "mute" {
		t.Errorf("Expected command mute, got %v", decoded["command"])
	}
	if decoded["reason"] != "operator" {
		t.Errorf("Expected flattened param, got %v", decoded["reason"])
	}
}

func TestSendControlUnboundCall(t *testing.T) {
	r := testRelay(t)

	if err := r.SendControl("nobody", "mute", nil); err == nil {
		t.Error("Expected error for unbound call")
	}
}

func TestDispatchRoutesEvents(t *testing.T) {
	r := testRelay(t)
	h := newRecordingHandler()
	r.SetHandler(h)

	conn, _ := captureConn("conn-1")

	r.dispatch(conn, &protocol.StartEvent{UCID: "call-1", DID: "1000"})
	for i := 0; i < 5; i++ {
		r.dispatch(conn, &protocol.MediaEvent{
			UCID: "call-1",
			Data: protocol.MediaData{Samples: []int16{1, 2, 3}, SampleRate: 8000},
		})
	}
	r.dispatch(conn, &protocol.StopEvent{UCID: "call-1"})

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for stream end")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.starts) != 1 || h.starts[0] != "call-1" {
		t.Errorf("Expected one start for call-1, got %v", h.starts)
	}
	if h.packets["call-1"] != 5 {
		t.Errorf("Expected 5 media packets, got %d", h.packets["call-1"])
	}
	if len(h.ends) != 1 || h.ends[0] != "call-1" {
		t.Errorf("Expected one end for call-1, got %v", h.ends)
	}
}

func TestDispatchIsolatesCalls(t *testing.T) {
	r := testRelay(t)
	h := newRecordingHandler()
	r.SetHandler(h)

	conn, _ := captureConn("conn-1")

	r.dispatch(conn, &protocol.StartEvent{UCID: "call-a", DID: "1"})
	r.dispatch(conn, &protocol.StartEvent{UCID: "call-b", DID: "2"})

	for i := 0; i < 3; i++ {
		r.dispatch(conn, &protocol.MediaEvent{UCID: "call-a", Data: protocol.MediaData{Samples: []int16{1}, SampleRate: 8000}})
	}
	r.dispatch(conn, &protocol.MediaEvent{UCID: "call-b", Data: protocol.MediaData{Samples: []int16{1}, SampleRate: 8000}})

	r.dispatch(conn, &protocol.StopEvent{UCID: "call-a"})
	r.dispatch(conn, &protocol.StopEvent{UCID: "call-b"})

	for i := 0; i < 2; i++ {
		select {
		case <-h.done:
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for stream ends")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.packets["call-a"] != 3 {
		t.Errorf("Expected 3 packets for call-a, got %d", h.packets["call-a"])
	}
	if h.packets["call-b"] != 1 {
		t.Errorf("Expected 1 packet for call-b, got %d", h.packets["call-b"])
	}
}

func TestMediaWithoutStartIsDropped(t *testing.T) {
	r := testRelay(t)
	h := newRecordingHandler()
	r.SetHandler(h)

	conn, _ := captureConn("conn-1")
	r.dispatch(conn, &protocol.MediaEvent{UCID: "ghost", Data: protocol.MediaData{Samples: []int16{1}, SampleRate: 8000}})

	time.Sleep(20 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.packets["ghost"] != 0 {
		t.Errorf("Expected no packets delivered without a start, got %d", h.packets["ghost"])
	}
}

func TestRestartDuringQueuedStop(t *testing.T) {
	r := testRelay(t)
	h := newRecordingHandler()
	h.hold = make(chan struct{})
	r.SetHandler(h)

	conn, _ := captureConn("conn-1")
	media := &protocol.MediaEvent{
		UCID: "call-1",
		Data: protocol.MediaData{Samples: []int16{1, 2, 3}, SampleRate: 8000},
	}

	r.dispatch(conn, &protocol.StartEvent{UCID: "call-1", DID: "1000"})
	r.dispatch(conn, media)
	<-h.entered

	// Worker is parked inside the media callback: the stop and the
	// immediate restart both queue up behind it
	r.dispatch(conn, &protocol.StopEvent{UCID: "call-1"})
	r.dispatch(conn, &protocol.StartEvent{UCID: "call-1", DID: "1000"})
	close(h.hold)

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the first incarnation to end")
	}

	// Media for the restarted call must still reach the handler
	r.dispatch(conn, media)

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		starts, ends, packets := len(h.starts), len(h.ends), h.packets["call-1"]
		h.mu.Unlock()
		if starts == 2 && ends == 1 && packets == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Restarted call lost events: starts=%d ends=%d packets=%d", starts, ends, packets)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopSchedulesGracePeriodUnbind(t *testing.T) {
	r := testRelay(t)
	h := newRecordingHandler()
	r.SetHandler(h)

	conn, frames := captureConn("conn-1")
	r.dispatch(conn, &protocol.StartEvent{UCID: "call-1", DID: "1000"})
	r.dispatch(conn, &protocol.StopEvent{UCID: "call-1"})

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for stream end")
	}

	// Inside the grace period late playback still flows out
	samples := make([]int16, 400)
	for i := range samples {
		samples[i] = int16(i)
	}
	if !r.SendAudio("call-1", samples, 8000) {
		t.Error("Expected playback to succeed inside the grace period")
	}
	if len(*frames) == 0 {
		t.Error("Expected playback frames inside the grace period")
	}

	time.Sleep(150 * time.Millisecond)
	if r.SendAudio("call-1", samples, 8000) {
		t.Error("Expected playback to fail after the grace period")
	}
}
