package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/bugowl/internal/interfaces"
)

// SchedulerHandler handles housekeeping scheduler endpoints
type SchedulerHandler struct {
	schedulerService interfaces.SchedulerService
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(schedulerService interfaces.SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{
		schedulerService: schedulerService,
	}
}

// ListJobsHandler returns every housekeeping job with its last and next run
// GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.schedulerService.IsRunning(),
		"jobs":    h.schedulerService.GetAllJobStatuses(),
	})
}

// TriggerJobHandler runs a housekeeping job now
// POST /api/scheduler/jobs/{name}/trigger
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/scheduler/jobs/"), "/trigger")
	if name == "" || strings.Contains(name, "/") {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	if _, err := h.schedulerService.GetJobStatus(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.schedulerService.TriggerJob(name); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Job " + name + " triggered",
	})
}
