package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (per-user phase notifications)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Workflow trigger surface
	mux.HandleFunc("/workflow/phase/", s.app.WorkflowHandler.TriggerPhaseHandler)
	mux.HandleFunc("/workflow/health", s.app.WorkflowHandler.HealthHandler)

	// Workflow read paths
	mux.HandleFunc("/workflow/status", s.app.WorkflowHandler.StatusHandler)
	mux.HandleFunc("/workflow/analytics", s.app.WorkflowHandler.AnalyticsHandler)
	mux.HandleFunc("/workflow/sla-violations", s.app.WorkflowHandler.SLAViolationsHandler)
	mux.HandleFunc("/workflow/queue-stats", s.app.WorkflowHandler.QueueStatsHandler)

	// Job management
	mux.HandleFunc("/workflow/jobs/", s.handleJobRoutes)

	// System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes job subpaths to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	// POST /workflow/jobs/{id}/cancel
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel") {
		s.app.WorkflowHandler.CancelJobHandler(w, r)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}
