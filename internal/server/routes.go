package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs (intake, control, inspection)
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Signed artifact downloads (rendered reports, raw pages)
	mux.HandleFunc("/artifacts/", s.app.ArtifactHandler.ServeHandler)

	return mux
}

// handleJobsRoute serves the job collection: list and create.
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes serves /api/jobs/{id} and its control subpaths.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts: ["api", "jobs", "{id}"] or ["api", "jobs", "{id}", action]
	if len(parts) < 3 || parts[2] == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}
	jobID := parts[2]

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.GetJobHandler(w, r, jobID)
		return
	}

	switch parts[3] {
	case "pause":
		s.app.JobHandler.PauseJobHandler(w, r, jobID)
	case "cancel":
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
	case "resume":
		s.app.JobHandler.ResumeJobHandler(w, r, jobID)
	case "clarify":
		s.app.JobHandler.ClarifyJobHandler(w, r, jobID)
	case "report":
		s.app.ReportHandler.GetReportHandler(w, r, jobID)
	default:
		http.Error(w, "Unknown job action", http.StatusNotFound)
	}
}
