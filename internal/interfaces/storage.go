package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/perquire/internal/models"
)

// JobListOptions filters and pages job listings
type JobListOptions struct {
	Status string // Comma-separated status values
	Limit  int
	Offset int
}

// JobStorage persists research jobs and implements the queue semantics the
// engine depends on: exclusive claim of one queued row, heartbeats, and
// requeue for rescue.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.ResearchJob) error
	GetJob(ctx context.Context, jobID string) (*models.ResearchJob, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.ResearchJob, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.ResearchJob, error)

	// ClaimNextQueued atomically transitions the oldest queued job to
	// running (setting started_at, updated_at, last_heartbeat) and returns
	// it. Returns (nil, nil) when the queue is empty. At most one caller
	// can claim a given job.
	ClaimNextQueued(ctx context.Context) (*models.ResearchJob, error)

	// UpdateJobStatus sets status (and error text when non-empty),
	// maintaining the status-derived timestamps.
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error

	// UpdateHeartbeat refreshes last_heartbeat; called on every durable
	// write from the pipeline executor.
	UpdateHeartbeat(ctx context.Context, jobID string) error

	// RequeueJob returns a running job to the queue: status=queued,
	// started_at cleared, last_heartbeat refreshed.
	RequeueJob(ctx context.Context, jobID string, reason string) error

	// ResumeJob requeues a paused/cancelled/clarified job from the control
	// plane, clearing final_report, report_assets, and completed_at so the
	// next run starts clean.
	ResumeJob(ctx context.Context, jobID string) error

	// CompleteJob publishes the final report: final_report, report_assets,
	// status=completed, completed_at=now.
	CompleteJob(ctx context.Context, jobID string, report string, assets *models.ReportAssets) error

	// DeleteJob removes a job and cascades to its steps, notes, sources,
	// ledger entries, and section drafts.
	DeleteJob(ctx context.Context, jobID string) error

	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// StepStorage persists the per-job investigative steps
type StepStorage interface {
	SaveStep(ctx context.Context, step *models.ResearchStep) error
	GetStep(ctx context.Context, stepID string) (*models.ResearchStep, error)
	// ListSteps returns all steps for a job ordered by step_order.
	ListSteps(ctx context.Context, jobID string) ([]*models.ResearchStep, error)
	UpdateStepStatus(ctx context.Context, stepID string, status models.StepStatus, result *models.StepResult) error
	// ResetRunningSteps returns rescued steps to pending; returns how many
	// were reset.
	ResetRunningSteps(ctx context.Context, jobID string) (int, error)
	CountSteps(ctx context.Context, jobID string) (int, error)
	DeleteStepsForJob(ctx context.Context, jobID string) error
}

// NoteStorage persists append-only notes and their sources
type NoteStorage interface {
	SaveNote(ctx context.Context, note *models.ResearchNote) error
	// ListNotes returns all notes for a job in creation order.
	ListNotes(ctx context.Context, jobID string) ([]*models.ResearchNote, error)
	ListStepNotes(ctx context.Context, stepID string) ([]*models.ResearchNote, error)
	SaveSource(ctx context.Context, source *models.PageSource) error
	// ListSources returns all sources for a job in note creation order.
	ListSources(ctx context.Context, jobID string) ([]*models.PageSource, error)
	DeleteNotesForJob(ctx context.Context, jobID string) error
}

// LedgerStorage is the citation ledger manager: per-job dense citation
// numbering with deterministic dedup by source hash.
type LedgerStorage interface {
	// AssignCitation returns the citation number for the source, inserting
	// a new entry at max(existing)+1 if the (job, hash) pair is new. The
	// insert is idempotent against concurrent retries.
	AssignCitation(ctx context.Context, jobID string, source models.CitationSource) (int, error)
	// ListEntries returns a job's ledger ordered by citation number.
	ListEntries(ctx context.Context, jobID string) ([]*models.CitationEntry, error)
	CountEntries(ctx context.Context, jobID string) (int, error)
	DeleteEntriesForJob(ctx context.Context, jobID string) error
}

// SectionStorage persists longform section drafts, unique per
// (job, section_key)
type SectionStorage interface {
	SaveDraft(ctx context.Context, draft *models.SectionDraft) error
	GetDraft(ctx context.Context, jobID string, key models.SectionKey) (*models.SectionDraft, error)
	ListDrafts(ctx context.Context, jobID string) ([]*models.SectionDraft, error)
	DeleteDraftsForJob(ctx context.Context, jobID string) error
}

// StorageManager bundles the durable-store facets behind one lifecycle
type StorageManager interface {
	Jobs() JobStorage
	Steps() StepStorage
	Notes() NoteStorage
	Ledger() LedgerStorage
	Sections() SectionStorage
	RunGC() error
	Close() error
}

// Clock abstracts time for rescue-threshold tests
type Clock interface {
	Now() time.Time
}
