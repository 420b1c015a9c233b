package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/musicgen-service/internal/audio"
)

// API endpoints and paths.
const (
	apiGenerateMusic = "/v1/generate/music"
	apiModel         = "/v1/model"
	apiHealth        = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errUnexpectedContentType   = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
)

var (
	// ErrEmptyAudio is returned when the inference service sends no audio.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrInvalidModelInfo is returned when the service describes itself badly.
	ErrInvalidModelInfo = errors.New("invalid model description")
)

// RemoteClient talks to a standalone inference server hosting the model.
type RemoteClient struct {
	httpClient *http.Client
	baseURL    string
}

// GenerateRequest is the JSON body of a generation call.
type GenerateRequest struct {
	Text          []string  `json:"text"`
	AudioSamples  []float32 `json:"audio_samples,omitempty"`
	AudioChannels int       `json:"audio_channels,omitempty"`
	SamplingRate  int       `json:"sampling_rate,omitempty"`
	Device        string    `json:"device"`
	MaxNewTokens  int       `json:"max_new_tokens"`
	DoSample      bool      `json:"do_sample"`
	GuidanceScale float64   `json:"guidance_scale"`
	Model         string    `json:"model,omitempty"`
}

// ModelInfo is the inference server's description of the loaded model.
type ModelInfo struct {
	Name         string `json:"name"`
	SamplingRate int    `json:"sampling_rate"`
}

// ErrorResponse is a structured error body from the inference server.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewRemoteClient creates a client for the server at baseURL, e.g.
// "http://localhost:8000". The timeout applies to every request.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies that the inference server is up.
func (c *RemoteClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// Describe fetches the loaded model's name and output sample rate.
func (c *RemoteClient) Describe(ctx context.Context) (ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiModel, http.NoBody)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to create model request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to query model at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ModelInfo{}, c.parseErrorResponse(resp)
	}

	var info ModelInfo

	err = json.NewDecoder(resp.Body).Decode(&info)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to decode model description: %w", err)
	}

	if info.SamplingRate <= 0 {
		return ModelInfo{}, fmt.Errorf("%w: sampling rate %d", ErrInvalidModelInfo, info.SamplingRate)
	}

	return info, nil
}

// GenerateMusic sends a generation request and returns the WAV response body.
func (c *RemoteClient) GenerateMusic(ctx context.Context, body GenerateRequest) ([]byte, error) {
	if len(body.Text) == 0 {
		return nil, ErrEmptyText
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiGenerateMusic, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to inference service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw
// body so the diagnostic is never lost.
func (c *RemoteClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}

// Remote is a Generator backed by a RemoteClient.
type Remote struct {
	client *RemoteClient
	config Config
}

// NewRemote checks the server's health and reads its model description.
func NewRemote(ctx context.Context, client *RemoteClient) (*Remote, error) {
	healthErr := client.HealthCheck(ctx)
	if healthErr != nil {
		return nil, healthErr
	}

	info, err := client.Describe(ctx)
	if err != nil {
		return nil, err
	}

	return &Remote{
		client: client,
		config: Config{Name: info.Name, SampleRate: info.SamplingRate},
	}, nil
}

// Config returns the server-reported model configuration.
func (r *Remote) Config() Config {
	return r.config
}

// Generate runs one generation call on the inference server.
func (r *Remote) Generate(ctx context.Context, params Params) (Tensor, error) {
	body := GenerateRequest{
		Text:          params.Input.Text,
		Device:        string(params.Input.Device),
		MaxNewTokens:  params.MaxNewTokens,
		DoSample:      params.DoSample,
		GuidanceScale: params.GuidanceScale,
		Model:         r.config.Name,
	}

	if params.Input.Audio != nil {
		body.AudioSamples = params.Input.Audio.Samples
		body.AudioChannels = params.Input.Audio.Channels
		body.SamplingRate = params.Input.Audio.SampleRate
	}

	wavData, err := r.client.GenerateMusic(ctx, body)
	if err != nil {
		return Tensor{}, err
	}

	buf, err := audio.DecodeWAV(wavData)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to decode generated audio: %w", err)
	}

	if buf.SampleRate != r.config.SampleRate {
		return Tensor{}, fmt.Errorf("%w: got %d Hz, model reports %d Hz",
			ErrSampleRateMismatch, buf.SampleRate, r.config.SampleRate)
	}

	return TensorFromBuffer(buf), nil
}
