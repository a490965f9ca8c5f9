package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"queuectl/internal/logger"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/service"

	"github.com/gorilla/mux"
)

// RecentLimit is how many jobs the dashboard shows
const RecentLimit = 15

// JobHandler serves the monitoring dashboard and the JSON query API
type JobHandler struct {
	jobService *service.JobService
	metrics    *metrics.Metrics
	logger     logger.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *service.JobService, metrics *metrics.Metrics, log logger.Logger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		metrics:    metrics,
		logger:     log,
	}
}

// Router wires every route behind the CORS middleware
func (h *JobHandler) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", h.Dashboard).Methods(http.MethodGet)
	r.HandleFunc("/retry/{id}", h.RetryForm).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/log", h.GetJobLog).Methods(http.MethodGet)
	api.HandleFunc("/metrics", h.GetMetrics).Methods(http.MethodGet)
	api.HandleFunc("/dlq", h.GetDeadLetter).Methods(http.MethodGet)
	api.HandleFunc("/dlq/retry-all", h.RetryAll).Methods(http.MethodPost)
	api.HandleFunc("/dlq/{id}/retry", h.Retry).Methods(http.MethodPost)

	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	return corsMiddleware(r)
}

// corsMiddleware sets CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListJobs handles GET /api/jobs?state=
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobService.ListJobs(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		h.writeError(w, "failed to list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /api/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobService.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, "failed to retrieve job", err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// GetJobLog handles GET /api/jobs/{id}/log
func (h *JobHandler) GetJobLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	path, data, err := h.jobService.ReadLog(id)
	if err != nil {
		h.writeError(w, "failed to read job log", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"id":   id,
		"path": path,
		"log":  string(data),
	})
}

// GetMetrics handles GET /api/metrics
func (h *JobHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobService.Metrics(r.Context())
	if err != nil {
		h.writeError(w, "failed to compute metrics", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetDeadLetter handles GET /api/dlq
func (h *JobHandler) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entries, err := h.jobService.ListDeadLetter(r.Context())
	if err != nil {
		h.writeError(w, "failed to retrieve dead letter store", err)
		return
	}
	if entries == nil {
		entries = []*models.DeadLetterEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// Retry handles POST /api/dlq/{id}/retry
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.jobService.Retry(r.Context(), id)
	if err != nil {
		h.writeError(w, "failed to retry job", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "reinstated": ok})
}

// RetryAll handles POST /api/dlq/retry-all
func (h *JobHandler) RetryAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.jobService.RetryAll(r.Context())
	if err != nil {
		h.writeError(w, "failed to retry dead letter store", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"reinstated": count})
}

func (h *JobHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("error encoding response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes
func (h *JobHandler) writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": msg + ": " + err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
