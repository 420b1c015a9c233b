// Package conditioning turns a request's prompt and optional reference audio
// into the model input consumed by the synthesis pipeline.
package conditioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/audio"
	"github.com/book-expert/musicgen-service/internal/device"
	"github.com/book-expert/musicgen-service/internal/model"
)

// Fallback prompts used when the request carries no usable text.
const (
	DefaultPrompt      = "ambient music"
	ContinuationPrompt = "continue the music"
)

const (
	// DefaultFetchTimeout bounds the download of reference audio.
	DefaultFetchTimeout = 60 * time.Second
	// maxReferenceBytes caps the size of a downloaded reference clip.
	maxReferenceBytes = 64 << 20
	userAgent         = "musicgen-service/1.0"
)

var (
	// ErrUnsupportedScheme is returned for reference URLs that are not http(s).
	ErrUnsupportedScheme = errors.New("reference audio URL must use http or https")
	// ErrReferenceTooLarge is returned when a reference clip exceeds the cap.
	ErrReferenceTooLarge = errors.New("reference audio is too large")
	// ErrUnknownContainer is returned when the reference is neither WAV nor MP3.
	ErrUnknownContainer = errors.New("reference audio is not WAV or MP3")
	// ErrEmptyReference is returned when the reference decodes to no samples.
	ErrEmptyReference = errors.New("reference audio contains no samples")
)

// FetchError reports a failed download of reference audio.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch reference audio %s: status %d", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("failed to fetch reference audio %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// DecodeError reports reference audio that could not be decoded.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode reference audio %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Loader builds model inputs.
type Loader struct {
	httpClient *http.Client
	device     func() device.Device
	normalizer *PromptNormalizer
	log        *logger.Logger
}

// NewLoader creates a Loader whose downloads are bounded by fetchTimeout.
func NewLoader(fetchTimeout time.Duration, selectDevice func() device.Device, log *logger.Logger) *Loader {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}

	return &Loader{
		httpClient: &http.Client{Timeout: fetchTimeout},
		device:     selectDevice,
		normalizer: NewPromptNormalizer(),
		log:        log,
	}
}

// Load prepares the conditioning for one job. Continuation with a reference
// URL downloads and decodes the clip; everything else is text only.
func (l *Loader) Load(ctx context.Context, prompt, audioURL string, continuation bool) (model.Input, error) {
	text := l.normalizer.Normalize(prompt)
	dev := l.device()

	if !continuation || audioURL == "" {
		if text == "" {
			text = DefaultPrompt
		}

		return model.Input{Text: []string{text}, Device: dev}, nil
	}

	data, err := l.fetch(ctx, audioURL)
	if err != nil {
		return model.Input{}, err
	}

	reference, err := decode(audioURL, data)
	if err != nil {
		return model.Input{}, err
	}

	l.log.Info("Loaded reference audio %s: %d frames at %d Hz, %d channel(s)",
		audioURL, reference.Frames(), reference.SampleRate, reference.Channels)

	if text == "" {
		text = ContinuationPrompt
	}

	return model.Input{Text: []string{text}, Audio: &reference, Device: dev}, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &FetchError{URL: rawURL, Err: ErrUnsupportedScheme}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	if len(data) > maxReferenceBytes {
		return nil, &FetchError{URL: rawURL, Err: ErrReferenceTooLarge}
	}

	return data, nil
}

func decode(rawURL string, data []byte) (audio.Buffer, error) {
	var (
		buf audio.Buffer
		err error
	)

	switch audio.Sniff(data) {
	case audio.ContainerWAV:
		buf, err = audio.DecodeWAV(data)
	case audio.ContainerMP3:
		buf, err = audio.DecodeMP3(data)
	default:
		err = ErrUnknownContainer
	}

	if err != nil {
		return audio.Buffer{}, &DecodeError{URL: rawURL, Err: err}
	}

	if buf.Frames() == 0 {
		return audio.Buffer{}, &DecodeError{URL: rawURL, Err: ErrEmptyReference}
	}

	return buf.Normalize(), nil
}
