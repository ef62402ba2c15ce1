// Package session drives the per-call conversation loop between inbound
// gateway audio, the transcription service and the response backend.
package session
