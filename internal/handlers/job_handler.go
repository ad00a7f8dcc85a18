package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/services/jobs"
)

// JobService is the intake surface the job handler drives
type JobService interface {
	Accept(ctx context.Context, payload *models.JobPayload) (*models.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Details(ctx context.Context, jobID string) (*models.JobDetail, error)
	CaseDetail(ctx context.Context, jobID, testCaseUUID string) (*models.TestCaseDetail, error)
}

// JobHandler handles job intake and run detail requests from the main API
type JobHandler struct {
	jobs   JobService
	logger arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		logger: logger,
	}
}

type cancelRequest struct {
	JobUUID string `json:"job_uuid"`
}

// ExecuteHandler accepts a job for execution
// POST /api/job/execute/
func (h *JobHandler) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var payload models.JobPayload
	if err := DecodeJSON(r, &payload); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.Accept(r.Context(), &payload)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"status":   "success",
		"message":  "Job accepted",
		"job_uuid": job.ID,
		"state":    job.Status,
	})
}

// CancelHandler records a cancellation request
// POST /api/job/cancel/ {"job_uuid": "..."}
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req cancelRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.jobs.Cancel(r.Context(), req.JobUUID); err != nil {
		h.writeJobError(w, err)
		return
	}

	h.logger.WithCorrelationId(req.JobUUID).Info().Msg("Job cancellation requested")
	WriteSuccess(w, "Job cancellation requested")
}

// DetailHandler returns a job with its case and task runs
// GET /api/job/{job_uuid}/
func (h *JobHandler) DetailHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/job/"), "/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	detail, err := h.jobs.Details(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

// CaseDetailHandler returns one test case run of a job
// GET /api/job/testcase/?job_uuid=&test_case_uuid=
func (h *JobHandler) CaseDetailHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := r.URL.Query().Get("job_uuid")
	caseUUID := r.URL.Query().Get("test_case_uuid")
	if jobID == "" || caseUUID == "" {
		WriteError(w, http.StatusBadRequest, "job_uuid and test_case_uuid are required")
		return
	}

	detail, err := h.jobs.CaseDetail(r.Context(), jobID, caseUUID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

// writeJobError maps intake errors to status codes
func (h *JobHandler) writeJobError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":   "error",
			"error":    "invalid job payload",
			"problems": verr.Problems,
		})
	case errors.Is(err, jobs.ErrAlreadyCanceled):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrDuplicateJob):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, interfaces.ErrRecordNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Job request failed")
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
