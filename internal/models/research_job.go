package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a research job
type JobStatus string

const (
	JobStatusQueued                JobStatus = "queued"
	JobStatusRunning               JobStatus = "running"
	JobStatusPaused                JobStatus = "paused"
	JobStatusCancelled             JobStatus = "cancelled"
	JobStatusCompleted             JobStatus = "completed"
	JobStatusError                 JobStatus = "error"
	JobStatusClarificationRequired JobStatus = "clarification_required"
)

// IsTerminal reports whether the status ends executor involvement.
// Paused and cancelled jobs halt the executor; the control API decides
// whether they ever re-enter the queue.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// ClarificationKeys are the metadata keys intake requires before a job may
// be queued. Jobs missing any of them are created as clarification_required.
var ClarificationKeys = []string{
	"time_horizon",
	"region_focus",
	"data_modalities",
	"integration_targets",
	"quality_constraints",
}

// JobOptions holds user-supplied execution options, snapshot at creation
// time so a job is self-contained and re-runnable.
type JobOptions struct {
	Depth              string   `json:"depth,omitempty"`                // "quick", "standard", "deep"
	MaxSteps           int      `json:"max_steps,omitempty"`            // Planner cap (0 = engine default)
	MaxDurationSeconds int      `json:"max_duration_seconds,omitempty"` // Rescue budget (0 = engine default)
	Tags               []string `json:"tags,omitempty"`
}

// ReportAsset describes one rendered report file
type ReportAsset struct {
	Format      string `json:"format"`       // "markdown", "html", "pdf", "docx"
	URL         string `json:"url"`          // Artifact store URL
	SHA256      string `json:"sha256"`       // Hex checksum of the rendered bytes
	SizeBytes   int    `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// ReportAssets is the structured asset descriptor persisted on completion
type ReportAssets struct {
	Assets      []ReportAsset `json:"assets"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// ResearchJob represents a deep-research job: a natural-language question
// that the engine plans, investigates, and synthesizes into a cited report.
//
// Status transitions are owned by two writers: the control API (pause,
// cancel, clarify, requeue) and the executor (running → completed/error).
// The executor observes control transitions cooperatively at phase
// boundaries and never overwrites a control-set status.
type ResearchJob struct {
	ID       string            `json:"id"`
	Question string            `json:"question"`
	Options  JobOptions        `json:"options"`
	// Metadata carries free-form context plus the recognized clarification
	// keys (time_horizon, region_focus, data_modalities,
	// integration_targets, quality_constraints).
	Metadata map[string]string `json:"metadata,omitempty"`
	Status   JobStatus         `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`     // Set on first running transition
	CompletedAt   *time.Time `json:"completed_at,omitempty"`   // Set iff status=completed
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"` // Updated on every durable write from the executor

	FinalReport  string        `json:"final_report,omitempty"`
	ReportAssets *ReportAssets `json:"report_assets,omitempty"`
	// Error contains a concise description of why the job failed.
	// Only populated when job status is 'error'.
	Error string `json:"error,omitempty"`
}

// MissingClarifications returns the clarification keys absent or empty in
// the job's metadata, in canonical order.
func (j *ResearchJob) MissingClarifications() []string {
	var missing []string
	for _, key := range ClarificationKeys {
		if j.Metadata == nil || j.Metadata[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// EffectiveMaxSteps returns the job's planner cap, falling back to the
// engine default when unset.
func (j *ResearchJob) EffectiveMaxSteps(engineDefault int) int {
	if j.Options.MaxSteps > 0 {
		return j.Options.MaxSteps
	}
	return engineDefault
}

// EffectiveMaxDuration returns the job's duration budget, falling back to
// the engine default when unset.
func (j *ResearchJob) EffectiveMaxDuration(engineDefaultSeconds int) time.Duration {
	seconds := j.Options.MaxDurationSeconds
	if seconds <= 0 {
		seconds = engineDefaultSeconds
	}
	return time.Duration(seconds) * time.Second
}

// ToJSON serializes the job for API responses and queue payloads
func (j *ResearchJob) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
