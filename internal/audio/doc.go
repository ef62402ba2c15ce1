// Package audio provides per-call PCM accumulation with energy-based voice
// activity detection, WAV encoding, and the sample shaping applied to
// outbound audio.
package audio
