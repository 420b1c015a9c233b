package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// The MP3 decoder always emits signed 16-bit little-endian stereo frames.
const (
	mp3Channels      = 2
	mp3BytesPerFrame = 4
)

// DecodeMP3 decodes an MP3 stream into an IntegerEncoded stereo buffer.
func DecodeMP3(data []byte) (Buffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to read MP3 PCM data: %w", err)
	}

	// drop a trailing partial frame
	pcm = pcm[:len(pcm)/mp3BytesPerFrame*mp3BytesPerFrame]

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	return Buffer{
		Samples:        samples,
		SampleRate:     decoder.SampleRate(),
		Channels:       mp3Channels,
		BitDepth:       BitDepth16,
		IntegerEncoded: true,
	}, nil
}

// Container identifies a supported audio container.
type Container string

// Known containers.
const (
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerUnknown Container = ""
)

// Sniff inspects the leading bytes of data to identify its container.
func Sniff(data []byte) Container {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ContainerWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return ContainerMP3
	default:
		return ContainerUnknown
	}
}
