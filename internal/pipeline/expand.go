package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// expandPhase runs follow-up planning rounds over the step summaries
// collected so far. Each round may add steps up to the job's step cap and
// is executed immediately; rounds stop when the planner returns no new
// steps, the cap or round limit is reached, or the deadline passes.
//
// Rounds resume correctly after a rescue: persisted steps carry their
// iteration number, so a rescued job continues counting from the highest
// round already on disk.
func (e *Executor) expandPhase(ctx context.Context, job *models.ResearchJob, deadline time.Time) error {
	maxRounds := e.cfg.Iteration.MaxIterations
	if maxRounds <= 0 {
		return nil
	}
	maxSteps := job.EffectiveMaxSteps(e.cfg.Engine.MaxSteps)

	for {
		if err := e.checkControl(ctx, job.ID); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			e.logger.Warn().Str("job_id", job.ID).Msg("Duration budget exhausted, skipping plan expansion")
			return nil
		}

		steps, err := e.storage.Steps().ListSteps(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to load steps: %w", err)
		}

		round := 0
		for _, s := range steps {
			if s.Iteration > round {
				round = s.Iteration
			}
		}
		remaining := maxSteps - len(steps)
		if round >= maxRounds || remaining <= 0 {
			return nil
		}

		added, err := e.expandOnce(ctx, job, steps, round+1, remaining)
		if err != nil {
			return err
		}
		if len(added) == 0 {
			return nil
		}

		if err := e.executePhase(ctx, job, added, deadline); err != nil {
			return err
		}
	}
}

// expandOnce asks the planner for one round of follow-up steps and
// persists them. A planner outage or unparseable output ends the
// expansion quietly; the evidence already collected stands on its own.
func (e *Executor) expandOnce(ctx context.Context, job *models.ResearchJob, existing []*models.ResearchStep, round, remaining int) ([]*models.ResearchStep, error) {
	summaries, err := e.stepSummaries(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}

	response, err := e.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: expansionSystemPrompt},
		{Role: "user", Content: buildExpansionPrompt(job, summaries, remaining)},
	}, interfaces.ChatOptions{})
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Expansion planner call failed, keeping current plan")
		return nil, nil
	}

	planned := parseExpansionResponse(response, remaining)
	if len(planned) == 0 {
		e.logger.Debug().Str("job_id", job.ID).Int("round", round).Msg("No follow-up steps proposed")
		return nil, nil
	}

	added := make([]*models.ResearchStep, 0, len(planned))
	for i, p := range planned {
		step := &models.ResearchStep{
			ID:        common.NewStepID(),
			JobID:     job.ID,
			Title:     p.Title,
			Objective: p.Objective,
			ToolHint:  p.ToolHint,
			Theme:     p.Theme,
			Status:    models.StepStatusPending,
			StepOrder: len(existing) + i + 1,
			Iteration: round,
		}
		if err := e.storage.Steps().SaveStep(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to save expansion step: %w", err)
		}
		added = append(added, step)
	}
	e.heartbeat(ctx, job.ID)

	e.logger.Info().
		Str("job_id", job.ID).
		Int("round", round).
		Int("steps", len(added)).
		Msg("Plan expanded with follow-up steps")
	return added, nil
}

// stepSummaries returns the job's step-summary notes bounded by the
// expansion token budget, highest importance first.
func (e *Executor) stepSummaries(ctx context.Context, jobID string) ([]*models.ResearchNote, error) {
	notes, err := e.storage.Notes().ListNotes(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}

	var summaries []*models.ResearchNote
	for _, note := range notes {
		if note.Role == models.NoteRoleStepSummary {
			summaries = append(summaries, note)
		}
	}

	budget := e.cfg.Iteration.TokenBudget
	if budget <= 0 {
		budget = 20000
	}
	return PackNotes(summaries, budget, len(summaries)), nil
}
