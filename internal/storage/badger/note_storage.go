package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// NoteStorage implements the NoteStorage interface for Badger
type NoteStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// seqMu serializes Seq assignment so creation order is total per job.
	seqMu sync.Mutex
}

// NewNoteStorage creates a new NoteStorage instance
func NewNoteStorage(db *BadgerDB, logger arbor.ILogger) interfaces.NoteStorage {
	return &NoteStorage{
		db:     db,
		logger: logger,
	}
}

func (s *NoteStorage) SaveNote(ctx context.Context, note *models.ResearchNote) error {
	if note.ID == "" {
		return fmt.Errorf("note ID is required")
	}
	if note.JobID == "" {
		return fmt.Errorf("note job ID is required")
	}
	note.Importance = models.ClampImportance(note.Importance)
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if note.Seq == 0 {
		var last []models.ResearchNote
		query := badgerhold.Where("JobID").Eq(note.JobID).SortBy("Seq").Reverse().Limit(1)
		if err := s.db.Store().Find(&last, query); err != nil {
			return fmt.Errorf("failed to read note sequence: %w", err)
		}
		note.Seq = 1
		if len(last) > 0 {
			note.Seq = last[0].Seq + 1
		}
	}

	if err := s.db.Store().Upsert(note.ID, note); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	return nil
}

func (s *NoteStorage) ListNotes(ctx context.Context, jobID string) ([]*models.ResearchNote, error) {
	var notes []models.ResearchNote
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Seq")
	if err := s.db.Store().Find(&notes, query); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	result := make([]*models.ResearchNote, len(notes))
	for i := range notes {
		result[i] = &notes[i]
	}
	return result, nil
}

func (s *NoteStorage) ListStepNotes(ctx context.Context, stepID string) ([]*models.ResearchNote, error) {
	var notes []models.ResearchNote
	query := badgerhold.Where("StepID").Eq(stepID).SortBy("Seq")
	if err := s.db.Store().Find(&notes, query); err != nil {
		return nil, fmt.Errorf("failed to list step notes: %w", err)
	}

	result := make([]*models.ResearchNote, len(notes))
	for i := range notes {
		result[i] = &notes[i]
	}
	return result, nil
}

func (s *NoteStorage) SaveSource(ctx context.Context, source *models.PageSource) error {
	if source.ID == "" {
		return fmt.Errorf("source ID is required")
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

func (s *NoteStorage) ListSources(ctx context.Context, jobID string) ([]*models.PageSource, error) {
	var sources []models.PageSource
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&sources, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	result := make([]*models.PageSource, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

func (s *NoteStorage) DeleteNotesForJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.ResearchNote{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.PageSource{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete sources: %w", err)
	}
	return nil
}
