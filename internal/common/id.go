package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewStepID generates a unique step ID with the "step_" prefix
func NewStepID() string {
	return "step_" + uuid.New().String()
}

// NewNoteID generates a unique note ID with the "note_" prefix
func NewNoteID() string {
	return "note_" + uuid.New().String()
}

// NewSourceID generates a unique source ID with the "src_" prefix
func NewSourceID() string {
	return "src_" + uuid.New().String()
}
