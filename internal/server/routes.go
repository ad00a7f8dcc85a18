package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes
	mux.HandleFunc("/ws/stream/", s.app.WSHandler.HandleStream)
	mux.HandleFunc("/ws/playground/", s.app.WSHandler.HandlePlayground)

	// API routes - Jobs (intake from the main API)
	mux.HandleFunc("/api/job/execute/", s.app.JobHandler.ExecuteHandler)
	mux.HandleFunc("/api/job/cancel/", s.app.JobHandler.CancelHandler)
	mux.HandleFunc("/api/job/testcase/", s.app.JobHandler.CaseDetailHandler)
	mux.HandleFunc("/api/job/", s.handleJobRoutes) // GET /api/job/{uuid}/

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/jobs", s.app.SchedulerHandler.ListJobsHandler)
	mux.HandleFunc("/api/scheduler/jobs/", s.handleSchedulerRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Artifacts served from the filesystem blob store
	if root := s.app.ArtifactsRoot; root != "" {
		mux.Handle("/artifacts/", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(root))))
	}

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes /api/job/{uuid}/ to the job detail handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/job/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: s.app.JobHandler.DetailHandler,
	})
}

// handleSchedulerRoutes routes /api/scheduler/jobs/{name}/trigger
func (s *Server) handleSchedulerRoutes(w http.ResponseWriter, r *http.Request) {
	matched := RouteByPathSuffix(w, r, "/api/scheduler/jobs/", []PathSuffixRouter{
		{Suffix: "/trigger", Handler: s.app.SchedulerHandler.TriggerJobHandler},
	})
	if !matched {
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
