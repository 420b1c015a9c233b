// Package api is the HTTP façade over the job manager.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/device"
	"github.com/book-expert/musicgen-service/internal/jobs"
	"github.com/book-expert/musicgen-service/internal/observe"
)

// maxRequestBytes caps a POST /generate body.
const maxRequestBytes = 1 << 20

const landingPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>MusicGen Service</title></head>
<body style="font-family:sans-serif; max-width:40em; margin:2em;">
  <h1>MusicGen Service</h1>
  <p>Submit jobs with <code>POST /generate</code> and poll <code>GET /status/{id}</code>.</p>
  <ul>
    <li><a href="/health">/health</a> health check</li>
    <li><a href="/jobs">/jobs</a> known jobs</li>
    <li><a href="/metrics">/metrics</a> Prometheus metrics</li>
  </ul>
</body></html>
`

// Manager is the job manager surface the façade needs.
type Manager interface {
	Submit(req jobs.Request) (string, error)
	Status(id string) (jobs.Job, error)
	Artifact(ctx context.Context, id string) (io.ReadCloser, jobs.Job, error)
	Cancel(id string) error
	List() []jobs.Job
}

// SubmitResponse is returned by POST /generate.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse is returned by GET /status/{id}.
type StatusResponse struct {
	Status   jobs.Status `json:"status"`
	Progress float64     `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	OK     bool          `json:"ok"`
	Device device.Device `json:"device"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Server routes HTTP requests to the job manager.
type Server struct {
	manager        Manager
	selectDevice   func() device.Device
	metrics        *observe.Metrics
	metricsHandler http.Handler
	log            *logger.Logger
}

// NewServer creates a Server. metricsHandler serves GET /metrics when non-nil.
func NewServer(
	manager Manager,
	selectDevice func() device.Device,
	metrics *observe.Metrics,
	metricsHandler http.Handler,
	log *logger.Logger,
) *Server {
	return &Server{
		manager:        manager,
		selectDevice:   selectDevice,
		metrics:        metrics,
		metricsHandler: metricsHandler,
		log:            log,
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /{$}", http.HandlerFunc(s.handleIndex))
	s.route(mux, "POST /generate", http.HandlerFunc(s.handleGenerate))
	s.route(mux, "GET /status/{id}", http.HandlerFunc(s.handleStatus))
	s.route(mux, "GET /audio/{id}", http.HandlerFunc(s.handleAudio))
	s.route(mux, "GET /jobs", http.HandlerFunc(s.handleList))
	s.route(mux, "DELETE /jobs/{id}", http.HandlerFunc(s.handleCancel))
	s.route(mux, "GET /health", http.HandlerFunc(s.handleHealth))

	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, handler http.Handler) {
	if s.metrics != nil {
		handler = s.metrics.Middleware(pattern, handler)
	}

	mux.Handle(pattern, handler)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, landingPage)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

		return
	}

	id, err := s.manager.Submit(req)
	if err != nil {
		status := http.StatusInternalServerError

		switch {
		case errors.Is(err, jobs.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, jobs.ErrShuttingDown):
			status = http.StatusServiceUnavailable
		}

		writeError(w, status, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{JobID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")

		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rc, _, err := s.manager.Artifact(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotReady):
			writeError(w, http.StatusNotFound, "Audio not ready")
		case errors.Is(err, jobs.ErrArtifactMissing):
			writeError(w, http.StatusNotFound, "File not found")
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, "Job not found")
		default:
			s.log.Error("Failed to open audio for job %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to open audio")
		}

		return
	}

	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+id+".wav\"")
	w.WriteHeader(http.StatusOK)

	_, copyErr := io.Copy(w, rc)
	if copyErr != nil {
		s.log.Warn("Failed to stream audio for job %s: %v", id, copyErr)
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Cancel(r.PathValue("id"))

	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, jobs.ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true, Device: s.selectDevice()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
