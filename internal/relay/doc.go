// Package relay owns the gateway websocket transport: it demultiplexes
// the inbound JSON event stream into per-call handler events and shapes
// outbound playback audio into fixed-size media packets.
package relay
