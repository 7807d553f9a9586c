package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/registry"
)

// TaskHandler exposes read-only job progress endpoints.
type TaskHandler struct {
	jobs   JobService
	logger *zap.Logger
}

// NewTaskHandler wires the job service and logger.
func NewTaskHandler(jobs JobService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{jobs: jobs, logger: logger}
}

// GetTask handles GET /api/task/{id}. It returns the job snapshot or 404.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "job service unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Job(id)
	if errors.Is(err, registry.ErrJobNotFound) {
		writeEnvelope(w, http.StatusNotFound, nil, "task not found")
		return
	}
	if err != nil {
		h.logger.Error("get task failed", zap.String("job_id", id), zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, nil, "internal server error")
		return
	}
	writeOK(w, job)
}

// TasksByKeyword handles GET /api/tasks/keyword/{keyword}, newest first.
func (h *TaskHandler) TasksByKeyword(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "job service unavailable")
		return
	}
	writeOK(w, h.jobs.JobsByKeyword(chi.URLParam(r, "keyword")))
}

// Stats handles GET /api/tasks/stats.
func (h *TaskHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	if h.jobs == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "job service unavailable")
		return
	}
	writeOK(w, h.jobs.Stats())
}
