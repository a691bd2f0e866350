package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SectionStorage implements the SectionStorage interface for Badger
type SectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSectionStorage creates a new SectionStorage instance
func NewSectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SectionStorage {
	return &SectionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SectionStorage) SaveDraft(ctx context.Context, draft *models.SectionDraft) error {
	if draft.JobID == "" || draft.SectionKey == "" {
		return fmt.Errorf("draft job ID and section key are required")
	}
	if draft.ID == "" {
		draft.ID = models.SectionDraftKey(draft.JobID, draft.SectionKey)
	}
	draft.UpdatedAt = time.Now()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = draft.UpdatedAt
	}

	if err := s.db.Store().Upsert(draft.ID, draft); err != nil {
		return fmt.Errorf("failed to save section draft: %w", err)
	}
	return nil
}

func (s *SectionStorage) GetDraft(ctx context.Context, jobID string, key models.SectionKey) (*models.SectionDraft, error) {
	var draft models.SectionDraft
	if err := s.db.Store().Get(models.SectionDraftKey(jobID, key), &draft); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get section draft: %w", err)
	}
	return &draft, nil
}

func (s *SectionStorage) ListDrafts(ctx context.Context, jobID string) ([]*models.SectionDraft, error) {
	var drafts []models.SectionDraft
	if err := s.db.Store().Find(&drafts, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to list section drafts: %w", err)
	}

	// Fixed report order, not storage order.
	byKey := make(map[models.SectionKey]*models.SectionDraft, len(drafts))
	for i := range drafts {
		byKey[drafts[i].SectionKey] = &drafts[i]
	}
	result := make([]*models.SectionDraft, 0, len(drafts))
	for _, key := range models.SectionOrder {
		if d, ok := byKey[key]; ok {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *SectionStorage) DeleteDraftsForJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.SectionDraft{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete section drafts: %w", err)
	}
	return nil
}
