package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// planPhase produces the job's step list. Existing steps short-circuit the
// planner, which makes resumed runs idempotent: a rescued job continues the
// plan it already persisted.
func (e *Executor) planPhase(ctx context.Context, job *models.ResearchJob) ([]*models.ResearchStep, error) {
	existing, err := e.storage.Steps().ListSteps(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	if len(existing) > 0 {
		e.logger.Debug().
			Str("job_id", job.ID).
			Int("steps", len(existing)).
			Msg("Plan already persisted, resuming")
		return existing, nil
	}

	maxSteps := job.EffectiveMaxSteps(e.cfg.Engine.MaxSteps)

	warmNotes := e.archive.WarmNotes(ctx, job.Question)

	response, err := e.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: buildPlannerPrompt(job, maxSteps, warmNotes)},
	}, interfaces.ChatOptions{})
	if err != nil {
		// The fallback plan keeps the job moving when the planner is down.
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Planner call failed, using fallback plan")
		response = ""
	}

	planned := parsePlanResponse(response, maxSteps)

	steps := make([]*models.ResearchStep, 0, len(planned))
	for i, p := range planned {
		step := &models.ResearchStep{
			ID:        common.NewStepID(),
			JobID:     job.ID,
			Title:     p.Title,
			Objective: p.Objective,
			ToolHint:  p.ToolHint,
			Theme:     p.Theme,
			Status:    models.StepStatusPending,
			StepOrder: i + 1,
		}
		if err := e.storage.Steps().SaveStep(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to save step %d: %w", i+1, err)
		}
		steps = append(steps, step)
	}
	e.heartbeat(ctx, job.ID)

	e.logger.Info().
		Str("job_id", job.ID).
		Int("steps", len(steps)).
		Msg("Research plan persisted")
	return steps, nil
}
