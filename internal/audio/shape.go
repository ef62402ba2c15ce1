package audio

import "math"

// CrossfadeSamples is the number of samples blended at a chunk boundary.
const CrossfadeSamples = 20

// RMS computes the root-mean-square energy of a sample window. Used as a
// cheap voice-activity proxy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}

	return math.Sqrt(energy / float64(len(samples)))
}

// RemoveDCOffset subtracts the arithmetic mean from every sample.
// Uncentered PCM causes an audible pop at chunk boundaries.
func RemoveDCOffset(samples []int16) []int16 {
	if len(samples) == 0 {
		return nil
	}

	var sum int64
	for _, s := range samples {
		sum += int64(s)
	}
	offset := int32(math.Round(float64(sum) / float64(len(samples))))

	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampSample(int32(s) - offset)
	}

	return out
}

// Crossfade linearly blends the first CrossfadeSamples samples from the
// previously emitted sample value toward the chunk's own values. A zero
// last value means there is nothing to blend against and the chunk is
// returned unchanged (copied).
func Crossfade(samples []int16, last int16) []int16 {
	out := make([]int16, len(samples))
	copy(out, samples)

	if last == 0 || len(samples) == 0 {
		return out
	}

	fade := CrossfadeSamples
	if len(samples) < fade {
		fade = len(samples)
	}

	for i := 0; i < fade; i++ {
		t := float64(i) / float64(fade)
		blended := float64(last)*(1-t) + float64(samples[i])*t
		out[i] = clampSample(int32(math.Round(blended)))
	}

	return out
}

// FadeOutPad extends samples to exactly size by continuing a linear fade
// from the last real sample down toward zero. Padding with plain silence
// would itself produce a click.
func FadeOutPad(samples []int16, size int) []int16 {
	if len(samples) >= size {
		out := make([]int16, size)
		copy(out, samples[:size])
		return out
	}

	out := make([]int16, size)
	copy(out, samples)

	var last float64
	if len(samples) > 0 {
		last = float64(samples[len(samples)-1])
	}

	padLen := size - len(samples)
	for i := 0; i < padLen; i++ {
		faded := last * (1 - float64(i)/float64(padLen))
		out[len(samples)+i] = clampSample(int32(math.Round(faded)))
	}

	return out
}

// Packetize splits shaped audio into fixed-size packets, fade-out-padding
// the final short packet. For input of length N it returns ceil(N/size)
// packets, each of exactly size samples.
func Packetize(samples []int16, size int) [][]int16 {
	if len(samples) == 0 || size <= 0 {
		return nil
	}

	packets := make([][]int16, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		packets = append(packets, FadeOutPad(samples[start:end], size))
	}

	return packets
}

// clampSample saturates a 32-bit intermediate back into int16 range.
func clampSample(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
