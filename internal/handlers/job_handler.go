package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// clarificationPrompts are the intake questions surfaced when a submitted
// job is missing required clarification metadata.
var clarificationPrompts = map[string]string{
	"time_horizon":        "What time period should the research cover?",
	"region_focus":        "Which regions or markets should the research focus on?",
	"data_modalities":     "What kinds of evidence matter most (news, papers, filings, data)?",
	"integration_targets": "Where will the findings be used or integrated?",
	"quality_constraints": "Any constraints on source quality or recency?",
}

// CreateJobRequest is the intake payload for a new research job.
type CreateJobRequest struct {
	Question string            `json:"question" validate:"required,min=8"`
	Options  models.JobOptions `json:"options"`
	Metadata map[string]string `json:"metadata"`
}

// JobHandler serves the job intake and control API.
type JobHandler struct {
	storage  interfaces.StorageManager
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewJobHandler(storage interfaces.StorageManager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		storage:  storage,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateJobHandler accepts a new research job.
// POST /api/jobs
//
// Jobs missing clarification metadata are persisted as
// clarification_required with the outstanding prompts in the response;
// complete jobs enter the queue immediately.
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "question is required (minimum 8 characters)")
		return
	}

	job := &models.ResearchJob{
		ID:       common.NewJobID(),
		Question: req.Question,
		Options:  req.Options,
		Metadata: req.Metadata,
		Status:   models.JobStatusQueued,
	}

	missing := job.MissingClarifications()
	var prompts []map[string]string
	if len(missing) > 0 {
		job.Status = models.JobStatusClarificationRequired
		for _, key := range missing {
			prompts = append(prompts, map[string]string{
				"key":    key,
				"prompt": clarificationPrompts[key],
			})
		}
	}

	if err := h.storage.Jobs().SaveJob(ctx, job); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save job")
		WriteError(w, http.StatusInternalServerError, "failed to save job")
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Msg("Job created")

	response := map[string]interface{}{"job": job}
	if len(prompts) > 0 {
		response["clarifications"] = prompts
	}
	WriteJSON(w, http.StatusCreated, response)
}

// ListJobsHandler returns jobs, newest first.
// GET /api/jobs?status=queued,running&limit=50&offset=0
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()

	opts := &interfaces.JobListOptions{
		Status: r.URL.Query().Get("status"),
		Limit:  50,
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		opts.Offset = v
	}

	jobs, err := h.storage.Jobs().ListJobs(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetJobHandler returns one job with its steps and citation ledger.
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}

	steps, err := h.storage.Steps().ListSteps(ctx, jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to list steps")
	}
	citations, err := h.storage.Ledger().ListEntries(ctx, jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to list citations")
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job":       job,
		"steps":     steps,
		"citations": citations,
	})
}

// PauseJobHandler pauses a queued or running job. The executor halts at its
// next control check; no state is lost.
// POST /api/jobs/{id}/pause
func (h *JobHandler) PauseJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	h.transition(w, r, jobID, models.JobStatusPaused,
		models.JobStatusQueued, models.JobStatusRunning)
}

// CancelJobHandler cancels a job that has not finished.
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	h.transition(w, r, jobID, models.JobStatusCancelled,
		models.JobStatusQueued, models.JobStatusRunning, models.JobStatusPaused,
		models.JobStatusClarificationRequired, models.JobStatusError)
}

// ResumeJobHandler puts a halted job back in the queue. Published output is
// cleared so the resumed run finishes cleanly from durable step state.
// POST /api/jobs/{id}/resume
func (h *JobHandler) ResumeJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	job, err := h.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	switch job.Status {
	case models.JobStatusPaused, models.JobStatusCancelled, models.JobStatusError:
	default:
		WriteError(w, http.StatusConflict,
			fmt.Sprintf("cannot resume job in status %q", job.Status))
		return
	}

	if err := h.storage.Jobs().ResumeJob(ctx, jobID); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to resume job")
		WriteError(w, http.StatusInternalServerError, "failed to resume job")
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Job resumed")
	h.respondWithJob(w, r, jobID)
}

// ClarifyJobHandler merges clarification answers into the job's metadata.
// Once every required key is answered the job enters the queue.
// POST /api/jobs/{id}/clarify  {"answers": {"time_horizon": "..."}}
func (h *JobHandler) ClarifyJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	var req struct {
		Answers map[string]string `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Answers) == 0 {
		WriteError(w, http.StatusBadRequest, "answers are required")
		return
	}

	job, err := h.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != models.JobStatusClarificationRequired {
		WriteError(w, http.StatusConflict,
			fmt.Sprintf("job in status %q does not need clarification", job.Status))
		return
	}

	if job.Metadata == nil {
		job.Metadata = make(map[string]string)
	}
	for k, v := range req.Answers {
		if strings.TrimSpace(v) != "" {
			job.Metadata[k] = v
		}
	}

	missing := job.MissingClarifications()
	if len(missing) == 0 {
		job.Status = models.JobStatusQueued
	}
	if err := h.storage.Jobs().SaveJob(ctx, job); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to save clarified job")
		WriteError(w, http.StatusInternalServerError, "failed to save job")
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Int("still_missing", len(missing)).
		Msg("Clarification answers recorded")

	response := map[string]interface{}{"job": job}
	if len(missing) > 0 {
		var prompts []map[string]string
		for _, key := range missing {
			prompts = append(prompts, map[string]string{
				"key":    key,
				"prompt": clarificationPrompts[key],
			})
		}
		response["clarifications"] = prompts
	}
	WriteJSON(w, http.StatusOK, response)
}

// transition applies a control-plane status change when the job is in one
// of the allowed states.
func (h *JobHandler) transition(w http.ResponseWriter, r *http.Request, jobID string, target models.JobStatus, allowed ...models.JobStatus) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	job, err := h.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}

	ok := false
	for _, s := range allowed {
		if job.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		WriteError(w, http.StatusConflict,
			fmt.Sprintf("cannot move job from %q to %q", job.Status, target))
		return
	}

	if err := h.storage.Jobs().UpdateJobStatus(ctx, jobID, target, ""); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to update job status")
		WriteError(w, http.StatusInternalServerError, "failed to update job")
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Str("status", string(target)).
		Msg("Job status changed")
	h.respondWithJob(w, r, jobID)
}

func (h *JobHandler) respondWithJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.storage.Jobs().GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to reload job")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}
