package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// pcmFormatTag is the WAVE_FORMAT_PCM tag written into the fmt chunk.
const pcmFormatTag = 1

// unsigned8Offset recentres 8-bit WAV samples, which are stored unsigned.
const unsigned8Offset = 128

var (
	// ErrNotWAV is returned when the data is not a RIFF/WAVE container.
	ErrNotWAV = errors.New("not a WAV container")
	// ErrUnsupportedEncoding is returned for non-PCM WAV payloads.
	ErrUnsupportedEncoding = errors.New("unsupported WAV encoding")
)

// DecodeWAV parses an integer PCM WAV file. The returned buffer keeps the raw
// integer values and is marked IntegerEncoded; call Normalize before use.
func DecodeWAV(data []byte) (Buffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Buffer{}, ErrNotWAV
	}

	if decoder.WavAudioFormat != pcmFormatTag {
		return Buffer{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedEncoding, decoder.WavAudioFormat)
	}

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to read PCM data: %w", err)
	}

	format := Format{
		SampleRate: int(decoder.SampleRate),
		BitDepth:   int(decoder.BitDepth),
		Channels:   int(decoder.NumChans),
	}

	formatErr := format.Validate()
	if formatErr != nil {
		return Buffer{}, formatErr
	}

	samples := make([]float32, len(pcm.Data))
	for i, value := range pcm.Data {
		if format.BitDepth == BitDepth8 {
			value -= unsigned8Offset
		}

		samples[i] = float32(value)
	}

	return Buffer{
		Samples:        samples,
		SampleRate:     format.SampleRate,
		Channels:       format.Channels,
		BitDepth:       format.BitDepth,
		IntegerEncoded: true,
	}, nil
}

// EncodeWAV writes interleaved signed 16-bit samples as a PCM WAV file.
func EncodeWAV(w io.WriteSeeker, samples []int16, sampleRate, channels int) error {
	format := Format{SampleRate: sampleRate, BitDepth: BitDepth16, Channels: channels}

	formatErr := format.Validate()
	if formatErr != nil {
		return formatErr
	}

	data := make([]int, len(samples))
	for i, sample := range samples {
		data[i] = int(sample)
	}

	encoder := wav.NewEncoder(w, sampleRate, BitDepth16, channels, pcmFormatTag)

	writeErr := encoder.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: BitDepth16,
	})
	if writeErr != nil {
		return fmt.Errorf("failed to write WAV samples: %w", writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to finalise WAV header: %w", closeErr)
	}

	return nil
}
