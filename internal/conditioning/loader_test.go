// Package conditioning_test tests prompt handling and reference audio loading.
package conditioning_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/audio"
	"github.com/book-expert/musicgen-service/internal/conditioning"
	"github.com/book-expert/musicgen-service/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T) *conditioning.Loader {
	t.Helper()

	log, err := logger.New(t.TempDir(), "conditioning-test.log")
	require.NoError(t, err)

	return conditioning.NewLoader(2*time.Second, func() device.Device { return device.MPS }, log)
}

func wavBytes(t *testing.T, samples []int16, sampleRate, channels int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reference.wav")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(file, samples, sampleRate, channels))
	require.NoError(t, file.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}

func serve(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "musicgen-service/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestLoad_TextOnly(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)

	tests := []struct {
		name         string
		prompt       string
		audioURL     string
		continuation bool
		want         string
	}{
		{name: "prompt kept", prompt: "  upbeat   synthwave ", want: "upbeat synthwave"},
		{name: "empty prompt falls back", prompt: "", want: conditioning.DefaultPrompt},
		{name: "whitespace prompt falls back", prompt: " \t\n", want: conditioning.DefaultPrompt},
		{name: "continuation without url is text only", continuation: true, want: conditioning.DefaultPrompt},
		{name: "url without continuation is ignored", audioURL: "http://127.0.0.1:1/x.wav", prompt: "jazz", want: "jazz"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			input, err := loader.Load(context.Background(), testCase.prompt, testCase.audioURL, testCase.continuation)
			require.NoError(t, err)

			assert.Equal(t, []string{testCase.want}, input.Text)
			assert.Nil(t, input.Audio)
			assert.Equal(t, device.MPS, input.Device)
		})
	}
}

func TestLoad_ContinuationWithWAV(t *testing.T) {
	t.Parallel()

	server := serve(t, http.StatusOK, wavBytes(t, []int16{-32768, 16384, 0, 8192}, 22050, 2))
	loader := newTestLoader(t)

	input, err := loader.Load(context.Background(), "", server.URL+"/clip.wav", true)
	require.NoError(t, err)

	require.NotNil(t, input.Audio)
	assert.Equal(t, []string{conditioning.ContinuationPrompt}, input.Text)
	assert.Equal(t, 22050, input.Audio.SampleRate)
	assert.Equal(t, 2, input.Audio.Channels)
	assert.False(t, input.Audio.IntegerEncoded)
	assert.InDelta(t, -1.0, input.Audio.Samples[0], 1e-6)
	assert.InDelta(t, 0.5, input.Audio.Samples[1], 1e-6)
	assert.InDelta(t, 0.25, input.Audio.Samples[3], 1e-6)
}

func TestLoad_ContinuationWithMP3(t *testing.T) {
	t.Parallel()

	data, err := os.ReadFile(filepath.Join("testdata", "silence.mp3"))
	require.NoError(t, err)

	server := serve(t, http.StatusOK, data)
	loader := newTestLoader(t)

	input, err := loader.Load(context.Background(), "ambient pads", server.URL+"/clip.mp3", true)
	require.NoError(t, err)

	require.NotNil(t, input.Audio)
	assert.Equal(t, []string{"ambient pads"}, input.Text)
	assert.Equal(t, 44100, input.Audio.SampleRate)
	assert.Equal(t, 2, input.Audio.Channels)
	assert.False(t, input.Audio.IntegerEncoded)
	assert.Positive(t, input.Audio.Frames())
}

func TestLoad_FetchFailures(t *testing.T) {
	t.Parallel()

	notFound := serve(t, http.StatusNotFound, []byte("missing"))

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	loader := newTestLoader(t)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantErr    error
	}{
		{name: "non 2xx", url: notFound.URL + "/clip.wav", wantStatus: http.StatusNotFound},
		{name: "unreachable host", url: closedURL + "/clip.wav"},
		{name: "unsupported scheme", url: "ftp://example.com/clip.wav", wantErr: conditioning.ErrUnsupportedScheme},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := loader.Load(context.Background(), "jazz", testCase.url, true)
			require.Error(t, err)

			var fetchErr *conditioning.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, testCase.wantStatus, fetchErr.StatusCode)
			assert.NotEmpty(t, err.Error())

			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)
			}
		})
	}
}

func TestLoad_DecodeFailure(t *testing.T) {
	t.Parallel()

	server := serve(t, http.StatusOK, []byte("<html>not audio</html>"))
	loader := newTestLoader(t)

	_, err := loader.Load(context.Background(), "jazz", server.URL, true)

	var decodeErr *conditioning.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.ErrorIs(t, err, conditioning.ErrUnknownContainer)

	var fetchErr *conditioning.FetchError
	assert.False(t, errors.As(err, &fetchErr))
}

func TestPromptNormalizer(t *testing.T) {
	t.Parallel()

	normalizer := conditioning.NewPromptNormalizer()

	assert.Equal(t, `"lo-fi" beats...`, normalizer.Normalize("“lo–fi”\u0007   beats…"))
	assert.Empty(t, normalizer.Normalize(""))

	long := strings.Repeat("a", conditioning.MaxPromptRunes+50)
	assert.Len(t, []rune(normalizer.Normalize(long)), conditioning.MaxPromptRunes)
}
