package models

import (
	"time"
)

// SectionKey names one of the fixed report sections produced by longform
// synthesis.
type SectionKey string

const (
	SectionExecutiveSummary SectionKey = "executive_summary"
	SectionBackground       SectionKey = "background"
	SectionAnalysis         SectionKey = "analysis"
	SectionRecommendations  SectionKey = "recommendations"
)

// SectionOrder is the rendering order of report sections.
var SectionOrder = []SectionKey{
	SectionExecutiveSummary,
	SectionBackground,
	SectionAnalysis,
	SectionRecommendations,
}

// SectionTitle maps section keys to their report headings.
var SectionTitle = map[SectionKey]string{
	SectionExecutiveSummary: "Executive Summary",
	SectionBackground:       "Background",
	SectionAnalysis:         "Analysis",
	SectionRecommendations:  "Recommendations",
}

// SectionNoteRoles is the per-section allow-list of note roles fed into a
// section's draft prompt. The executive summary works from condensed
// step-level material; the analysis works from raw page findings.
var SectionNoteRoles = map[SectionKey][]NoteRole{
	SectionExecutiveSummary: {NoteRoleStepSummary, NoteRoleCrossJobSummary},
	SectionBackground:       {NoteRolePageSummary, NoteRoleStepSummary},
	SectionAnalysis:         {NoteRolePageSummary},
	SectionRecommendations:  {NoteRoleStepSummary, NoteRolePageSummary},
}

// SectionNoteCap bounds how many notes a single section draft consumes.
var SectionNoteCap = map[SectionKey]int{
	SectionExecutiveSummary: 8,
	SectionBackground:       10,
	SectionAnalysis:         16,
	SectionRecommendations:  10,
}

// SectionStatus represents the state of a section draft
type SectionStatus string

const (
	SectionStatusPending   SectionStatus = "pending"
	SectionStatusCompleted SectionStatus = "completed"
)

// SectionCitation maps a packed note to the citation numbers it carried
// into a section.
type SectionCitation struct {
	NoteID          string `json:"note_id"`
	CitationNumbers []int  `json:"citation_numbers"`
}

// SectionDraft is a persisted fragment of the final report for one named
// section. Unique per (job_id, section_key); a resumed executor reuses a
// completed draft instead of regenerating it.
type SectionDraft struct {
	// ID is the composite storage key "{job_id}|{section_key}".
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	SectionKey  SectionKey        `json:"section_key"`
	Status      SectionStatus     `json:"status"`
	Tokens      int               `json:"tokens"`
	Content     string            `json:"content"`
	CitationMap []SectionCitation `json:"citation_map,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// SectionDraftKey builds the composite storage key for a job/section pair.
func SectionDraftKey(jobID string, key SectionKey) string {
	return jobID + "|" + string(key)
}
