// Package transcription is the HTTP client for the external speech
// recognition service.
package transcription
