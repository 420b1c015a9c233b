// Package audio provides the in-memory sample buffer shared by the
// conditioning loader and the synthesis pipeline, plus the WAV and MP3 codecs
// used at the edges of the service.
package audio

import (
	"math"
	"time"
)

const (
	// int16Scale divides signed 16-bit PCM into [-1, 1).
	int16Scale = 32768.0
	// QuantizeScale multiplies [-1, 1] floats into signed 16-bit range.
	QuantizeScale = 32767.0
)

// Buffer is an interleaved block of samples.
//
// When IntegerEncoded is true the samples hold raw integer PCM values of
// BitDepth bits and must be normalised before reaching the model.
type Buffer struct {
	Samples        []float32
	SampleRate     int
	Channels       int
	BitDepth       int
	IntegerEncoded bool
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}

	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}

	seconds := float64(b.Frames()) / float64(b.SampleRate)

	return time.Duration(seconds * float64(time.Second))
}

// Normalize returns a copy whose samples are floating point in [-1, 1].
// 16-bit integer PCM is divided by 32768; other depths by their own full
// scale. Float buffers are clipped.
func (b Buffer) Normalize() Buffer {
	out := b
	out.Samples = make([]float32, len(b.Samples))
	out.IntegerEncoded = false

	scale := float32(1)
	if b.IntegerEncoded {
		scale = float32(fullScale(b.BitDepth))
	}

	for i, sample := range b.Samples {
		out.Samples[i] = clip(sample / scale)
	}

	return out
}

func fullScale(bitDepth int) float64 {
	if bitDepth <= 0 || bitDepth == BitDepth16 {
		return int16Scale
	}

	return math.Exp2(float64(bitDepth - 1))
}

// Clip bounds every sample into [-1, 1] in place.
func Clip(samples []float32) {
	for i, sample := range samples {
		samples[i] = clip(sample)
	}
}

// Quantize clips samples to [-1, 1] and scales them to signed 16-bit PCM.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, sample := range samples {
		out[i] = int16(clip(sample) * QuantizeScale)
	}

	return out
}

func clip(sample float32) float32 {
	switch {
	case sample != sample: // NaN
		return 0
	case sample > 1:
		return 1
	case sample < -1:
		return -1
	default:
		return sample
	}
}
