package models

import (
	"time"
)

// StepStatus represents the state of a single investigative step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusPartial   StepStatus = "partial"
	StepStatusError     StepStatus = "error"
)

// IsTerminal reports whether a step needs no further execution.
// Partial steps keep whatever evidence they gathered; the critic surfaces
// the gap in the final report.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusPartial, StepStatusError:
		return true
	}
	return false
}

// StepResult holds the structured outcome of a finished step
type StepResult struct {
	SourceCount int    `json:"source_count"`
	Reason      string `json:"reason,omitempty"` // Populated for partial steps (e.g. "No search results")
}

// ResearchStep is one planned investigative step of a job. Steps are dense
// 1-based ordered within a job and idempotently resumable: a pending step
// restarts, a completed or partial step is skipped, and a step found
// running at worker start was orphaned by a dead worker and is reset to
// pending by the rescue sweeper.
type ResearchStep struct {
	ID        string      `json:"id"`
	JobID     string      `json:"job_id"`
	Title     string      `json:"title"`
	Objective string      `json:"objective,omitempty"`
	ToolHint  string      `json:"tool_hint,omitempty"`
	Status    StepStatus  `json:"status"`
	StepOrder int         `json:"step_order"` // 1-based, dense per job
	Theme     string      `json:"theme,omitempty"`
	Iteration int         `json:"iteration"` // 0 for the original plan, >=1 for planner expansions
	Result    *StepResult `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
