package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/perquire/internal/models"
)

// ControlSignal is the cooperative halt raised when a job's persisted status
// was changed out from under the executor (pause, cancel, clarification).
// It travels the error path but is not a failure: the executor unwinds
// without marking the job errored.
type ControlSignal struct {
	Status models.JobStatus
	Reason string
}

func (s *ControlSignal) Error() string {
	return fmt.Sprintf("job halted: status=%s reason=%s", s.Status, s.Reason)
}

// checkControl reloads the job and raises a ControlSignal when its status
// has left running. Called at every phase boundary, between steps, and
// between section drafts.
func (e *Executor) checkControl(ctx context.Context, jobID string) error {
	job, err := e.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("control check failed: %w", err)
	}

	switch job.Status {
	case models.JobStatusRunning:
		return nil
	case models.JobStatusPaused, models.JobStatusCancelled, models.JobStatusClarificationRequired:
		return &ControlSignal{Status: job.Status, Reason: "external status change"}
	default:
		return &ControlSignal{Status: job.Status, Reason: "job left running state"}
	}
}

// heartbeat refreshes the job's liveness marker. Called after every durable
// write so the rescue sweeper sees forward progress.
func (e *Executor) heartbeat(ctx context.Context, jobID string) {
	if err := e.storage.Jobs().UpdateHeartbeat(ctx, jobID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("Heartbeat update failed")
	}
}
