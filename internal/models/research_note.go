package models

import (
	"time"
)

// NoteRole classifies what produced a note and how synthesis may use it
type NoteRole string

const (
	NoteRolePageSummary     NoteRole = "page_summary"
	NoteRoleStepSummary     NoteRole = "step_summary"
	NoteRoleCriticNote      NoteRole = "critic_note"
	NoteRoleCrossJobSummary NoteRole = "cross_job_summary"
)

const (
	// ImportanceMin and ImportanceMax bound note importance; values outside
	// the range are clamped on insert.
	ImportanceMin = 1
	ImportanceMax = 5
	// ImportanceDefault is used when the summarizer omits importance.
	ImportanceDefault = 3
)

// ClampImportance clamps a raw importance value into [ImportanceMin,
// ImportanceMax], defaulting when zero.
func ClampImportance(v int) int {
	if v == 0 {
		return ImportanceDefault
	}
	if v < ImportanceMin {
		return ImportanceMin
	}
	if v > ImportanceMax {
		return ImportanceMax
	}
	return v
}

// ResearchNote is an append-only unit of gathered evidence or synthesis
// feedback. Notes are never updated after insert; resumed executors only
// add notes they have not produced yet.
type ResearchNote struct {
	ID         string   `json:"id"`
	JobID      string   `json:"job_id"`
	StepID     string   `json:"step_id,omitempty"` // Empty for job-level notes
	Role       NoteRole `json:"role"`
	Importance int      `json:"importance"`  // [1,5]
	TokenCount int      `json:"token_count"` // Estimated, non-negative
	Content    string   `json:"content"`
	SourceURL  string   `json:"source_url,omitempty"`
	// Seq orders notes by creation within a job; assigned by storage.
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// PageSource records where a page_summary note came from. A source is
// created only attached to its note, by the executor that produced the
// summary.
type PageSource struct {
	ID            string    `json:"id"`
	NoteID        string    `json:"note_id"`
	JobID         string    `json:"job_id"`
	URL           string    `json:"url"`
	Title         string    `json:"title,omitempty"`
	Snippet       string    `json:"snippet,omitempty"`
	RawStorageURL string    `json:"raw_storage_url,omitempty"` // Pointer into the artifact store
	CreatedAt     time.Time `json:"created_at"`
}
