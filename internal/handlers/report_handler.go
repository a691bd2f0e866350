package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/artifacts"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// ReportHandler exposes a completed job's published report.
type ReportHandler struct {
	storage   interfaces.StorageManager
	artifacts *artifacts.Store
	logger    arbor.ILogger
}

func NewReportHandler(storage interfaces.StorageManager, store *artifacts.Store, logger arbor.ILogger) *ReportHandler {
	return &ReportHandler{
		storage:   storage,
		artifacts: store,
		logger:    logger,
	}
}

// GetReportHandler returns the report body plus signed download links for
// every rendered format.
// GET /api/jobs/{id}/report
func (h *ReportHandler) GetReportHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()

	job, err := h.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != models.JobStatusCompleted || job.FinalReport == "" {
		WriteError(w, http.StatusConflict, "report is not available yet")
		return
	}

	downloads := make(map[string]string)
	if job.ReportAssets != nil {
		for _, asset := range job.ReportAssets.Assets {
			key := strings.TrimPrefix(asset.URL, "artifact://")
			signed, err := h.artifacts.GetSigned(ctx, key, 15*time.Minute)
			if err != nil {
				h.logger.Warn().Err(err).Str("key", key).Msg("Failed to sign artifact URL")
				continue
			}
			downloads[asset.Format] = signed
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    job.ID,
		"report":    job.FinalReport,
		"assets":    job.ReportAssets,
		"downloads": downloads,
	})
}
