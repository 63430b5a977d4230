package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/ytgrab/internal/errors"
	"github.com/3leaps/ytgrab/pkg/jobregistry"
	"github.com/3leaps/ytgrab/pkg/media"
)

// maxBodyBytes bounds API request bodies.
const maxBodyBytes = 64 << 10

// JobService is the part of the job manager the API needs.
type JobService interface {
	Start(ctx context.Context, req jobregistry.StartRequest) (jobregistry.Job, error)
	Snapshot(id string) (jobregistry.Job, error)
	List() []jobregistry.Job
	Cancel(id string) error
	Subscribe(id string) (*jobregistry.Subscription, error)
}

// JobsHandler serves the probe, download and job endpoints.
type JobsHandler struct {
	jobs   JobService
	prober media.Prober
	logger *zap.Logger
}

// NewJobsHandler returns a handler backed by jobs and prober.
func NewJobsHandler(jobs JobService, prober media.Prober, logger *zap.Logger) *JobsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsHandler{jobs: jobs, prober: prober, logger: logger}
}

// ProbeRequest is the body of POST /api/probe.
type ProbeRequest struct {
	URL string `json:"url"`
}

// DownloadRequest is the body of POST /api/download.
type DownloadRequest struct {
	URL       string `json:"url"`
	FormatID  string `json:"formatId"`
	TargetDir string `json:"targetDir,omitempty"`
}

// DownloadResponse is returned when a job is accepted.
type DownloadResponse struct {
	JobID string `json:"jobId"`
}

// JobListResponse is the body of GET /api/jobs.
type JobListResponse struct {
	Jobs  []jobregistry.Job `json:"jobs"`
	Count int               `json:"count"`
}

// CancelResponse is the body of a successful cancel.
type CancelResponse struct {
	OK bool `json:"ok"`
}

// Probe handles POST /api/probe.
func (h *JobsHandler) Probe(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondWithError(w, r, apperrors.NewInvalidRequest("url is required"))
		return
	}

	res, err := h.prober.Probe(r.Context(), req.URL)
	if err != nil {
		h.logger.Warn("Probe failed", zap.String("url", req.URL), zap.Error(err))
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Download handles POST /api/download.
func (h *JobsHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	job, err := h.jobs.Start(r.Context(), jobregistry.StartRequest{
		URL:            req.URL,
		FormatSelector: req.FormatID,
		TargetDir:      req.TargetDir,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	writeJSON(w, http.StatusCreated, DownloadResponse{JobID: job.ID})
}

// List handles GET /api/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.List()
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Get handles GET /api/jobs/{jobID}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Snapshot(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/jobs/{jobID}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Cancel(chi.URLParam(r, "jobID")); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{OK: true})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewInvalidRequest("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.NewInvalidRequest("request body too large")
		}
		return apperrors.NewInvalidRequest("malformed JSON: " + err.Error())
	}
	return nil
}
