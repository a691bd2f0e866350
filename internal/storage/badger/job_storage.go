package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// claimMu serializes ClaimNextQueued so at most one caller can move a
	// given queued job to running.
	claimMu sync.Mutex

	steps    interfaces.StepStorage
	notes    interfaces.NoteStorage
	ledger   interfaces.LedgerStorage
	sections interfaces.SectionStorage
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger, steps interfaces.StepStorage, notes interfaces.NoteStorage, ledger interfaces.LedgerStorage, sections interfaces.SectionStorage) interfaces.JobStorage {
	return &JobStorage{
		db:       db,
		logger:   logger,
		steps:    steps,
		notes:    notes,
		ledger:   ledger,
		sections: sections,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.ResearchJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.ResearchJob, error) {
	var job models.ResearchJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.ResearchJob, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			statuses := strings.Split(opts.Status, ",")
			values := make([]interface{}, 0, len(statuses))
			for _, st := range statuses {
				values = append(values, models.JobStatus(strings.TrimSpace(st)))
			}
			query = query.And("Status").In(values...)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.ResearchJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.ResearchJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.ResearchJob, error) {
	var jobs []models.ResearchJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}

	result := make([]*models.ResearchJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ClaimNextQueued picks the oldest queued job and moves it to running under
// the claim lock, so concurrent engine slots never claim the same job.
func (s *JobStorage) ClaimNextQueued(ctx context.Context) (*models.ResearchJob, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var candidates []models.ResearchJob
	query := badgerhold.Where("Status").Eq(models.JobStatusQueued).SortBy("CreatedAt").Limit(1)
	if err := s.db.Store().Find(&candidates, query); err != nil {
		return nil, fmt.Errorf("failed to query queued jobs: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	job := candidates[0]
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.LastHeartbeat = &now
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(job.ID, &job); err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}

	s.logger.Debug().Str("job_id", job.ID).Msg("Claimed queued job")
	return &job, nil
}

func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error {
	var job models.ResearchJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	now := time.Now()
	job.Status = status
	job.UpdatedAt = now
	if errorMsg != "" {
		job.Error = errorMsg
	}

	switch status {
	case models.JobStatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		job.LastHeartbeat = &now
	case models.JobStatusCompleted:
		// completed_at is set only on terminal success.
		job.CompletedAt = &now
	}

	if err := s.db.Store().Upsert(jobID, &job); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(status)).
		Msg("Job status updated")
	return nil
}

func (s *JobStorage) UpdateHeartbeat(ctx context.Context, jobID string) error {
	var job models.ResearchJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Job deleted mid-run; nothing to refresh
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	now := time.Now()
	job.LastHeartbeat = &now
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(jobID, &job); err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// RequeueJob returns a running job to the queue after a rescue. The
// heartbeat is refreshed so the sweeper does not immediately re-flag it.
func (s *JobStorage) RequeueJob(ctx context.Context, jobID string, reason string) error {
	var job models.ResearchJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	now := time.Now()
	job.Status = models.JobStatusQueued
	job.StartedAt = nil
	job.LastHeartbeat = &now
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(jobID, &job); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	s.logger.Warn().
		Str("job_id", jobID).
		Str("reason", reason).
		Msg("Job requeued")
	return nil
}

// ResumeJob requeues a halted job from the control plane and clears any
// previously published output so the next run finishes clean.
func (s *JobStorage) ResumeJob(ctx context.Context, jobID string) error {
	var job models.ResearchJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	now := time.Now()
	job.Status = models.JobStatusQueued
	job.StartedAt = nil
	job.CompletedAt = nil
	job.FinalReport = ""
	job.ReportAssets = nil
	job.Error = ""
	job.LastHeartbeat = &now
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(jobID, &job); err != nil {
		return fmt.Errorf("failed to resume job: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Msg("Job resumed")
	return nil
}

func (s *JobStorage) CompleteJob(ctx context.Context, jobID string, report string, assets *models.ReportAssets) error {
	var job models.ResearchJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	now := time.Now()
	job.Status = models.JobStatusCompleted
	job.FinalReport = report
	job.ReportAssets = assets
	job.CompletedAt = &now
	job.LastHeartbeat = &now
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(jobID, &job); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("report_chars", len(report)).
		Msg("Job completed")
	return nil
}

// DeleteJob removes a job and everything hanging off it.
func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.steps.DeleteStepsForJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.notes.DeleteNotesForJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.ledger.DeleteEntriesForJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.sections.DeleteDraftsForJob(ctx, jobID); err != nil {
		return err
	}

	if err := s.db.Store().Delete(jobID, &models.ResearchJob{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Msg("Job deleted")
	return nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.ResearchJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}
