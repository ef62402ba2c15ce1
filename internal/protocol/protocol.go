package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire constants from the gateway contract
const (
	// Inbound event names
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"

	// Outbound message discriminators
	EventControl = "control"
	TypeMedia    = "media"

	// Data payload type marker
	DataTypeData = "data"

	// Packet geometry
	PacketSamples     = 400 // 50ms at 8kHz
	DefaultSampleRate = 8000
	BitsPerSample     = 16
	ChannelCount      = 1

	// Setup artifact: the gateway's first media packet sometimes arrives
	// at 16kHz and must be discarded
	SetupArtifactSampleRate = 16000
)

// Parse errors
var (
	ErrUnknownEvent  = errors.New("unknown event")
	ErrMissingUCID   = errors.New("missing ucid")
	ErrMissingData   = errors.New("media event without data payload")
	ErrEmptySamples  = errors.New("media event with empty samples")
	ErrInvalidPacket = errors.New("invalid outbound packet")
)

// MediaData carries one frame of PCM audio in either direction.
// Field names are fixed by the gateway wire contract.
type MediaData struct {
	Samples        []int16 `json:"samples"`
	BitsPerSample  int     `json:"bitsPerSample"`
	SampleRate     int     `json:"sampleRate"`
	ChannelCount   int     `json:"channelCount"`
	NumberOfFrames int     `json:"numberOfFrames"`
	Type           string  `json:"type"`
}

// InboundEvent is the closed set of messages the gateway may send.
// Exactly one of StartEvent, MediaEvent or StopEvent.
type InboundEvent interface {
	EventName() string
	CallID() string
}

// StartEvent announces a new call on the connection.
type StartEvent struct {
	UCID string
	DID  string
}

// MediaEvent carries one inbound audio frame for a live call.
type MediaEvent struct {
	UCID string
	Data MediaData
}

// StopEvent announces the end of a call.
type StopEvent struct {
	UCID string
	DID  string
}

func (e *StartEvent) EventName() string { return EventStart }
func (e *StartEvent) CallID() string    { return e.UCID }
func (e *MediaEvent) EventName() string { return EventMedia }
func (e *MediaEvent) CallID() string    { return e.UCID }
func (e *StopEvent) EventName() string  { return EventStop }
func (e *StopEvent) CallID() string     { return e.UCID }

// envelope is the superset shape used to sniff the event discriminator
type envelope struct {
	Event string     `json:"event"`
	UCID  string     `json:"ucid"`
	DID   string     `json:"did"`
	Data  *MediaData `json:"data"`
}

// ParseInbound parses a raw gateway frame into its typed event.
// Unrecognized event names return ErrUnknownEvent so callers can log and
// drop them without closing the connection.
func ParseInbound(raw []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}

	if env.UCID == "" {
		return nil, fmt.Errorf("%w in %q event", ErrMissingUCID, env.Event)
	}

	switch env.Event {
	case EventStart:
		return &StartEvent{UCID: env.UCID, DID: env.DID}, nil

	case EventMedia:
		if env.Data == nil {
			return nil, fmt.Errorf("%w (ucid=%s)", ErrMissingData, env.UCID)
		}
		if len(env.Data.Samples) == 0 {
			return nil, fmt.Errorf("%w (ucid=%s)", ErrEmptySamples, env.UCID)
		}
		if env.Data.SampleRate == 0 {
			env.Data.SampleRate = DefaultSampleRate
		}
		return &MediaEvent{UCID: env.UCID, Data: *env.Data}, nil

	case EventStop:
		return &StopEvent{UCID: env.UCID, DID: env.DID}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// MediaPacket is one outbound audio frame. Outbound frames are addressed
// with a "type" discriminator rather than "event"; the asymmetry is part
// of the gateway contract.
type MediaPacket struct {
	Type string    `json:"type"`
	UCID string    `json:"ucid"`
	Data MediaData `json:"data"`
}

// NewMediaPacket builds an outbound audio packet. Samples must already be
// shaped and padded to exactly PacketSamples.
func NewMediaPacket(ucid string, samples []int16, sampleRate int) (*MediaPacket, error) {
	if ucid == "" {
		return nil, fmt.Errorf("%w: empty ucid", ErrInvalidPacket)
	}
	if len(samples) != PacketSamples {
		return nil, fmt.Errorf("%w: expected %d samples, got %d",
			ErrInvalidPacket, PacketSamples, len(samples))
	}

	return &MediaPacket{
		Type: TypeMedia,
		UCID: ucid,
		Data: MediaData{
			Samples:        samples,
			BitsPerSample:  BitsPerSample,
			SampleRate:     sampleRate,
			ChannelCount:   ChannelCount,
			NumberOfFrames: len(samples),
			Type:           DataTypeData,
		},
	}, nil
}

// ControlMessage is a best-effort outbound control command. Params are
// flattened to the top level of the JSON object, alongside event, ucid and
// command.
type ControlMessage struct {
	UCID    string
	Command string
	Params  map[string]any
}

// MarshalJSON flattens Params into the envelope.
func (c ControlMessage) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(c.Params)+3)
	for k, v := range c.Params {
		obj[k] = v
	}
	obj["event"] = EventControl
	obj["ucid"] = c.UCID
	obj["command"] = c.Command
	return json.Marshal(obj)
}

// String returns a human-readable representation of a media data frame.
func (d *MediaData) String() string {
	return fmt.Sprintf("MediaData{Samples:%d, SampleRate:%d, Bits:%d, Channels:%d}",
		len(d.Samples), d.SampleRate, d.BitsPerSample, d.ChannelCount)
}
