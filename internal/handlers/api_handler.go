package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// APIHandler serves version and health endpoints.
type APIHandler struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
}

func NewAPIHandler(llm interfaces.LLMService, logger arbor.ILogger) *APIHandler {
	return &APIHandler{llm: llm, logger: logger}
}

// VersionHandler returns build version information.
// GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// HealthHandler reports service liveness plus the language-model
// connection. A failing model check degrades the status without failing
// the endpoint.
// GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	llmStatus := "ok"

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.llm.HealthCheck(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("LLM health check failed")
		status = "degraded"
		llmStatus = err.Error()
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": status,
		"llm":    llmStatus,
	})
}
