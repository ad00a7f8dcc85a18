package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
)

// QueueLength reports how many jobs are waiting
type QueueLength interface {
	Len(ctx context.Context) (int, error)
}

type APIHandler struct {
	queue  QueueLength
	logger arbor.ILogger
}

func NewAPIHandler(queue QueueLength, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		queue:  queue,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"full":    common.GetFullVersion(),
	})
}

// HealthHandler returns health check status with the queue depth
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	response := map[string]interface{}{
		"status":     "ok",
		"goroutines": common.GetGoroutineCount(),
	}
	if h.queue != nil {
		if n, err := h.queue.Len(r.Context()); err == nil {
			response["queued_jobs"] = n
		} else {
			h.logger.Warn().Err(err).Msg("Failed to read queue length")
			response["status"] = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
