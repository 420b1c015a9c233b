package audio

import (
	"errors"
	"fmt"
)

// Supported PCM bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Limits for decoded and encoded streams.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Error formats.
const (
	errFmtSampleRateRange = "%w: sample rate %d must be between 1 and %d Hz"
	errFmtBitDepthValues  = "%w: bit depth %d must be 8, 16, 24, or 32"
	errFmtChannelsRange   = "%w: channel count %d must be between 1 and %d"
)

// ErrInvalidFormat is returned when a stream's parameters are out of range.
var ErrInvalidFormat = errors.New("invalid audio format")

// Format describes the layout of a PCM stream.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// Validate checks the format against the supported ranges.
func (f Format) Validate() error {
	sampleRateErr := validateSampleRate(f.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(f.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	return validateChannels(f.Channels)
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, sampleRate, MaxSampleRate)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, bitDepth)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, channels, MaxChannels)
	}

	return nil
}
