package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Submitter accepts new jobs.
type Submitter interface {
	Submit(ctx context.Context, req *jobs.SubmitRequest) (*jobs.SubmitResponse, error)
}

// JobGetter reads a job's current state.
type JobGetter interface {
	GetJob(ctx context.Context, id int64) (*jobs.Job, error)
}

// Handler serves the job HTTP API.
type Handler struct {
	submitter Submitter
	jobs      JobGetter
	logger    *slog.Logger
}

// New returns a Handler backed by sub and getter.
func New(sub Submitter, getter JobGetter) *Handler {
	return &Handler{
		submitter: sub,
		jobs:      getter,
		logger:    slog.Default().With("component", "jobs-handler"),
	}
}

// Register mounts the job routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs", h.Submit)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.Get)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req jobs.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.submitter.Submit(ctx, &req)
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("job submission failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "job submission failed")
		return
	}
	log.Info("job accepted", "job_id", resp.JobID)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "job id must be a positive integer")
		return
	}
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		if statusCode == http.StatusNotFound {
			h.writeError(w, statusCode, "job not found")
			return
		}
		logger.FromContext(r.Context()).Error("job lookup failed", "job_id", id, "error", err)
		h.writeError(w, statusCode, "job lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
