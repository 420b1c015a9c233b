// Package client is a Go client for the musicgen-service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/musicgen-service/internal/api"
	"github.com/book-expert/musicgen-service/internal/jobs"
)

const (
	pathGenerate = "/generate"
	pathStatus   = "/status/"
	pathAudio    = "/audio/"
	pathJobs     = "/jobs/"
	pathHealth   = "/health"

	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// DefaultPollInterval is used by Wait when no interval is given.
const DefaultPollInterval = time.Second

var (
	// ErrJobFailed is returned by Wait when the job ends failed.
	ErrJobFailed = errors.New("generation job failed")
	// ErrEmptyJobID is returned when the service accepts a job without an id.
	ErrEmptyJobID = errors.New("service returned an empty job id")
)

// APIError is a non-2xx reply from the service.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("musicgen service returned %d: %s", e.StatusCode, e.Detail)
}

// Client talks to one musicgen-service instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for baseURL, e.g. "http://localhost:5001".
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Health reports the service's health and compute device.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var health api.HealthResponse

	err := c.doJSON(ctx, http.MethodGet, pathHealth, nil, &health)

	return health, err
}

// Submit starts a generation job and returns its id.
func (c *Client) Submit(ctx context.Context, req jobs.Request) (string, error) {
	var resp api.SubmitResponse

	err := c.doJSON(ctx, http.MethodPost, pathGenerate, req, &resp)
	if err != nil {
		return "", err
	}

	if resp.JobID == "" {
		return "", ErrEmptyJobID
	}

	return resp.JobID, nil
}

// Status fetches the status of job id.
func (c *Client) Status(ctx context.Context, id string) (api.StatusResponse, error) {
	var status api.StatusResponse

	err := c.doJSON(ctx, http.MethodGet, pathStatus+url.PathEscape(id), nil, &status)

	return status, err
}

// Cancel asks the service to stop job id.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, pathJobs+url.PathEscape(id), nil, nil)
}

// Wait polls job id until it is terminal. onProgress, when set, sees every
// polled status. A failed job yields ErrJobFailed wrapping the job's error.
func (c *Client) Wait(
	ctx context.Context,
	id string,
	interval time.Duration,
	onProgress func(api.StatusResponse),
) (api.StatusResponse, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, id)
		if err != nil {
			return status, err
		}

		if onProgress != nil {
			onProgress(status)
		}

		switch status.Status {
		case jobs.StatusComplete:
			return status, nil
		case jobs.StatusFailed:
			return status, fmt.Errorf("%w: %s", ErrJobFailed, status.Error)
		case jobs.StatusPending, jobs.StatusRunning:
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download streams the WAV artifact of job id into w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, pathAudio+url.PathEscape(id), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return written, fmt.Errorf("failed to read audio for job %s: %w", id, err)
	}

	return written, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, decodeErr)
	}

	return nil
}

// do sends a request and returns the response only for 2xx statuses.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader = http.NoBody

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach musicgen service at %s: %w", c.baseURL, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return resp, nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp api.ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return &APIError{StatusCode: resp.StatusCode, Detail: errorResp.Detail}
	}

	return &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
}
