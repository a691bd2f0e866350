package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
	"github.com/ternarybob/perquire/internal/services/archive"
	"github.com/ternarybob/perquire/internal/services/render"
)

// Renderer produces the published report formats
type Renderer interface {
	RenderAll(markdown, title string) ([]render.Output, error)
}

// Archivist is the cross-job note archive collaborator
type Archivist interface {
	WarmNotes(ctx context.Context, question string) []archive.WarmNote
	IndexNote(ctx context.Context, note *models.ResearchNote) error
}

// Executor drives one claimed job through the research pipeline: plan,
// execute steps, synthesize, finalize. Every phase writes durable state
// before advancing, so a crashed run resumes from its last completed
// boundary rather than starting over.
type Executor struct {
	cfg       *common.Config
	storage   interfaces.StorageManager
	llm       interfaces.LLMService
	search    interfaces.SearchService
	fetch     interfaces.FetchService
	artifacts interfaces.ArtifactService
	archive   Archivist
	renderer  Renderer
	logger    arbor.ILogger
}

// NewExecutor creates a pipeline executor
func NewExecutor(
	cfg *common.Config,
	storage interfaces.StorageManager,
	llm interfaces.LLMService,
	searchSvc interfaces.SearchService,
	fetchSvc interfaces.FetchService,
	artifactStore interfaces.ArtifactService,
	archiveSvc Archivist,
	renderer Renderer,
	logger arbor.ILogger,
) *Executor {
	return &Executor{
		cfg:       cfg,
		storage:   storage,
		llm:       llm,
		search:    searchSvc,
		fetch:     fetchSvc,
		artifacts: artifactStore,
		archive:   archiveSvc,
		renderer:  renderer,
		logger:    logger,
	}
}

// Run executes a claimed job to its next resting state. Control signals
// unwind quietly; real errors mark the job errored.
func (e *Executor) Run(ctx context.Context, jobID string) {
	job, err := e.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load claimed job")
		return
	}

	err = e.execute(ctx, job)

	var sig *ControlSignal
	if errors.As(err, &sig) {
		e.logger.Info().
			Str("job_id", jobID).
			Str("status", string(sig.Status)).
			Str("reason", sig.Reason).
			Msg("Job halted cooperatively")
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("Job failed")
		if updateErr := e.storage.Jobs().UpdateJobStatus(ctx, jobID, models.JobStatusError, err.Error()); updateErr != nil {
			e.logger.Error().Err(updateErr).Str("job_id", jobID).Msg("Failed to mark job errored")
		}
	}
}

func (e *Executor) execute(ctx context.Context, job *models.ResearchJob) error {
	started := time.Now()
	e.logger.Info().
		Str("job_id", job.ID).
		Str("question", job.Question).
		Msg("Job execution started")

	// Intake gate: a job claimed without its clarifications goes back to
	// the requester instead of burning budget on a vague question.
	if missing := job.MissingClarifications(); len(missing) > 0 {
		if err := e.storage.Jobs().UpdateJobStatus(ctx, job.ID, models.JobStatusClarificationRequired, ""); err != nil {
			return err
		}
		return &ControlSignal{
			Status: models.JobStatusClarificationRequired,
			Reason: "awaiting clarifications: " + joinKeys(missing),
		}
	}

	deadline := e.jobDeadline(job)

	if err := e.checkControl(ctx, job.ID); err != nil {
		return err
	}
	steps, err := e.planPhase(ctx, job)
	if err != nil {
		return err
	}
	if err := e.checkControl(ctx, job.ID); err != nil {
		return err
	}

	if err := e.executePhase(ctx, job, steps, deadline); err != nil {
		return err
	}
	if err := e.expandPhase(ctx, job, deadline); err != nil {
		return err
	}
	if err := e.checkControl(ctx, job.ID); err != nil {
		return err
	}

	report, err := e.synthesizePhase(ctx, job)
	if err != nil {
		return err
	}
	if err := e.checkControl(ctx, job.ID); err != nil {
		return err
	}

	if err := e.finalizePhase(ctx, job, report); err != nil {
		return err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Dur("duration", time.Since(started)).
		Msg("Job execution completed")
	return nil
}

// jobDeadline computes the wall-clock point after which no new step starts.
// Work already past the deadline degrades to synthesis over what exists.
func (e *Executor) jobDeadline(job *models.ResearchJob) time.Time {
	base := time.Now()
	if job.StartedAt != nil {
		base = *job.StartedAt
	}
	return base.Add(job.EffectiveMaxDuration(e.cfg.Engine.MaxJobSeconds))
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}
