package queue

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// Sweeper rescues running jobs whose executor died. A rescued job goes back
// to queued with its running steps reset to pending, so the next claim
// resumes it from durable state.
type Sweeper struct {
	cfg     *common.Config
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewSweeper(cfg *common.Config, storage interfaces.StorageManager, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		storage: storage,
		logger:  logger,
	}
}

// Sweep inspects every running job once and requeues the dead ones.
// Returns the number of jobs rescued.
func (s *Sweeper) Sweep(ctx context.Context) int {
	running, err := s.storage.Jobs().GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Sweep failed to list running jobs")
		return 0
	}

	rescued := 0
	now := time.Now()
	for _, job := range running {
		reason, dead := s.diagnose(ctx, job, now)
		if !dead {
			continue
		}
		if err := s.rescue(ctx, job, reason); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Rescue failed")
			continue
		}
		rescued++
	}
	return rescued
}

// diagnose decides whether a running job is dead and why. A job with no
// steps is judged against the start threshold from its start time; a job
// with steps is judged against its freshest liveness signal, bounded by the
// heartbeat threshold or by its own duration budget plus grace, whichever
// is tighter.
func (s *Sweeper) diagnose(ctx context.Context, job *models.ResearchJob, now time.Time) (string, bool) {
	stepCount, err := s.storage.Steps().CountSteps(ctx, job.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Sweep failed to count steps")
		return "", false
	}

	if stepCount == 0 {
		base := job.CreatedAt
		if job.StartedAt != nil && job.StartedAt.After(base) {
			base = *job.StartedAt
		}
		threshold := time.Duration(s.cfg.Rescue.StartSeconds) * time.Second
		return "start", now.Sub(base) > threshold
	}

	base := job.UpdatedAt
	if job.StartedAt != nil && job.StartedAt.After(base) {
		base = *job.StartedAt
	}
	if job.LastHeartbeat != nil && job.LastHeartbeat.After(base) {
		base = *job.LastHeartbeat
	}

	threshold := time.Duration(s.cfg.Rescue.HeartbeatSeconds) * time.Second
	budget := job.EffectiveMaxDuration(s.cfg.Engine.MaxJobSeconds) +
		time.Duration(s.cfg.Rescue.GraceSeconds)*time.Second
	if budget < threshold {
		threshold = budget
	}
	return "heartbeat", now.Sub(base) > threshold
}

func (s *Sweeper) rescue(ctx context.Context, job *models.ResearchJob, reason string) error {
	if err := s.storage.Jobs().RequeueJob(ctx, job.ID, reason); err != nil {
		return err
	}
	reset, err := s.storage.Steps().ResetRunningSteps(ctx, job.ID)
	if err != nil {
		return err
	}

	s.logger.Warn().
		Str("job_id", job.ID).
		Str("reason", reason).
		Int("steps_reset", reset).
		Msg("Rescued dead job")
	return nil
}
