// Package audio_test tests the sample buffer and codecs.
package audio_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/musicgen-service/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeToFile(t *testing.T, samples []int16, sampleRate, channels int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	require.NoError(t, err)

	require.NoError(t, audio.EncodeWAV(file, samples, sampleRate, channels))
	require.NoError(t, file.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}

func TestQuantize_ClipsAndScales(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, -1, 2.5, -7, 0.5, float32(math.NaN())}
	out := audio.Quantize(in)

	assert.Equal(t, []int16{0, 32767, -32767, 32767, -32767, 16383, 0}, out)
}

func TestNormalize_Int16DividesBy32768(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{
		Samples:        []float32{-32768, 16384, 32767},
		SampleRate:     22050,
		Channels:       1,
		BitDepth:       audio.BitDepth16,
		IntegerEncoded: true,
	}

	normalized := buf.Normalize()

	assert.False(t, normalized.IntegerEncoded)
	assert.InDelta(t, -1.0, normalized.Samples[0], 1e-6)
	assert.InDelta(t, 0.5, normalized.Samples[1], 1e-6)
	assert.Less(t, normalized.Samples[2], float32(1.0))
	assert.Equal(t, float32(-32768), buf.Samples[0], "original buffer must not be mutated")
}

func TestNormalize_FloatBufferIsClipped(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Samples: []float32{1.5, -2, 0.25}, SampleRate: 8000, Channels: 1}
	assert.Equal(t, []float32{1, -1, 0.25}, buf.Normalize().Samples)
}

func TestBuffer_Duration(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Samples: make([]float32, 32000*2), SampleRate: 32000, Channels: 2}
	assert.Equal(t, 32000, buf.Frames())
	assert.Equal(t, time.Second, buf.Duration())
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1000, -1000, 32767, -32767, 42}
	data := encodeToFile(t, samples, 32000, 2)

	assert.Equal(t, audio.ContainerWAV, audio.Sniff(data))

	decoded, err := audio.DecodeWAV(data)
	require.NoError(t, err)

	assert.Equal(t, 32000, decoded.SampleRate)
	assert.Equal(t, 2, decoded.Channels)
	assert.Equal(t, audio.BitDepth16, decoded.BitDepth)
	assert.True(t, decoded.IntegerEncoded)
	require.Len(t, decoded.Samples, len(samples))

	for i, sample := range samples {
		assert.InDelta(t, float64(sample), float64(decoded.Samples[i]), 0)
	}
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeWAV([]byte("definitely not a wave file"))
	require.ErrorIs(t, err, audio.ErrNotWAV)
}

func TestEncodeWAV_RejectsInvalidFormat(t *testing.T) {
	t.Parallel()

	file, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })

	err = audio.EncodeWAV(file, []int16{1}, 0, 1)
	require.ErrorIs(t, err, audio.ErrInvalidFormat)

	err = audio.EncodeWAV(file, []int16{1}, 32000, 0)
	require.ErrorIs(t, err, audio.ErrInvalidFormat)
}

// pcmWAV builds a canonical 44-byte-header PCM WAV around payload.
func pcmWAV(t *testing.T, payload []byte, sampleRate, bitDepth, channels int) []byte {
	t.Helper()

	blockAlign := channels * bitDepth / 8

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(36+len(payload))))
	buf.WriteString("WAVEfmt ")

	for _, field := range []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * blockAlign),
		uint16(blockAlign),
		uint16(bitDepth),
	} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, field))
	}

	buf.WriteString("data")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(payload))))
	buf.Write(payload)

	return buf.Bytes()
}

func TestDecodeWAV_OtherBitDepths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bitDepth int
		payload  []byte
		want     []float64
	}{
		{
			name:     "unsigned 8-bit is recentred",
			bitDepth: audio.BitDepth8,
			payload:  []byte{128, 255, 0, 128},
			want:     []float64{0, 127.0 / 128, -1, 0},
		},
		{
			name:     "24-bit uses its own full scale",
			bitDepth: audio.BitDepth24,
			payload:  []byte{0x00, 0x00, 0x00, 0xFF, 0xFF, 0x7F, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00},
			want:     []float64{0, 8388607.0 / 8388608, -1, 0},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			decoded, err := audio.DecodeWAV(pcmWAV(t, testCase.payload, 16000, testCase.bitDepth, 1))
			require.NoError(t, err)

			assert.Equal(t, testCase.bitDepth, decoded.BitDepth)
			assert.True(t, decoded.IntegerEncoded)

			normalized := decoded.Normalize()
			require.Len(t, normalized.Samples, len(testCase.want))

			for i, want := range testCase.want {
				assert.InDelta(t, want, float64(normalized.Samples[i]), 1e-6)
			}
		})
	}
}

func TestDecodeMP3(t *testing.T) {
	t.Parallel()

	data, err := os.ReadFile(filepath.Join("testdata", "silence.mp3"))
	require.NoError(t, err)
	assert.Equal(t, audio.ContainerMP3, audio.Sniff(data))

	decoded, err := audio.DecodeMP3(data)
	require.NoError(t, err)

	assert.Equal(t, 44100, decoded.SampleRate)
	assert.Equal(t, 2, decoded.Channels)
	assert.Equal(t, audio.BitDepth16, decoded.BitDepth)
	assert.True(t, decoded.IntegerEncoded)
	assert.Positive(t, decoded.Frames())
	assert.LessOrEqual(t, decoded.Frames(), 4*1152)
	assert.Zero(t, len(decoded.Samples)%decoded.Channels)

	for _, sample := range decoded.Normalize().Samples {
		assert.InDelta(t, 0, float64(sample), 1e-3)
	}
}

func TestDecodeMP3_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeMP3([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want audio.Container
	}{
		{name: "id3 tag", data: []byte("ID3\x04\x00"), want: audio.ContainerMP3},
		{name: "mpeg frame sync", data: []byte{0xFF, 0xFB, 0x90, 0x00}, want: audio.ContainerMP3},
		{name: "riff without wave", data: []byte("RIFF\x00\x00\x00\x00AVI "), want: audio.ContainerUnknown},
		{name: "empty", data: nil, want: audio.ContainerUnknown},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, audio.Sniff(testCase.data))
		})
	}
}

func TestFormat_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2}.Validate())
	require.ErrorIs(t, audio.Format{SampleRate: 44100, BitDepth: 12, Channels: 2}.Validate(), audio.ErrInvalidFormat)
	require.ErrorIs(t, audio.Format{SampleRate: 400000, BitDepth: 16, Channels: 2}.Validate(), audio.ErrInvalidFormat)
	require.ErrorIs(t, audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 9}.Validate(), audio.ErrInvalidFormat)
}
