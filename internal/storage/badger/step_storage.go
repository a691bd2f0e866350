package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// StepStorage implements the StepStorage interface for Badger
type StepStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewStepStorage creates a new StepStorage instance
func NewStepStorage(db *BadgerDB, logger arbor.ILogger) interfaces.StepStorage {
	return &StepStorage{
		db:     db,
		logger: logger,
	}
}

func (s *StepStorage) SaveStep(ctx context.Context, step *models.ResearchStep) error {
	if step.ID == "" {
		return fmt.Errorf("step ID is required")
	}
	if step.JobID == "" {
		return fmt.Errorf("step job ID is required")
	}
	step.UpdatedAt = time.Now()
	if step.CreatedAt.IsZero() {
		step.CreatedAt = step.UpdatedAt
	}

	if err := s.db.Store().Upsert(step.ID, step); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

func (s *StepStorage) GetStep(ctx context.Context, stepID string) (*models.ResearchStep, error) {
	var step models.ResearchStep
	if err := s.db.Store().Get(stepID, &step); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("step not found: %s", stepID)
		}
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return &step, nil
}

func (s *StepStorage) ListSteps(ctx context.Context, jobID string) ([]*models.ResearchStep, error) {
	var steps []models.ResearchStep
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("StepOrder")
	if err := s.db.Store().Find(&steps, query); err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	result := make([]*models.ResearchStep, len(steps))
	for i := range steps {
		result[i] = &steps[i]
	}
	return result, nil
}

func (s *StepStorage) UpdateStepStatus(ctx context.Context, stepID string, status models.StepStatus, result *models.StepResult) error {
	var step models.ResearchStep
	if err := s.db.Store().Get(stepID, &step); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("step not found: %s", stepID)
		}
		return fmt.Errorf("failed to get step: %w", err)
	}

	step.Status = status
	if result != nil {
		step.Result = result
	}
	step.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(stepID, &step); err != nil {
		return fmt.Errorf("failed to update step status: %w", err)
	}

	s.logger.Debug().
		Str("step_id", stepID).
		Str("status", string(status)).
		Msg("Step status updated")
	return nil
}

// ResetRunningSteps returns a rescued job's running steps to pending so the
// next claimant re-executes them.
func (s *StepStorage) ResetRunningSteps(ctx context.Context, jobID string) (int, error) {
	var steps []models.ResearchStep
	query := badgerhold.Where("JobID").Eq(jobID).And("Status").Eq(models.StepStatusRunning)
	if err := s.db.Store().Find(&steps, query); err != nil {
		return 0, fmt.Errorf("failed to find running steps: %w", err)
	}

	for i := range steps {
		steps[i].Status = models.StepStatusPending
		steps[i].UpdatedAt = time.Now()
		if err := s.db.Store().Upsert(steps[i].ID, &steps[i]); err != nil {
			return 0, fmt.Errorf("failed to reset step %s: %w", steps[i].ID, err)
		}
	}

	if len(steps) > 0 {
		s.logger.Debug().
			Str("job_id", jobID).
			Int("count", len(steps)).
			Msg("Running steps reset to pending")
	}
	return len(steps), nil
}

func (s *StepStorage) CountSteps(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.ResearchStep{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count steps: %w", err)
	}
	return int(count), nil
}

func (s *StepStorage) DeleteStepsForJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.ResearchStep{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	return nil
}
