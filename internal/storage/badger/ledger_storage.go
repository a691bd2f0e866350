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

// LedgerStorage implements the citation ledger on Badger. Numbering is
// dense and per-job: the first source a job cites is 1, the next new source
// is 2, and re-citing a known source returns its existing number.
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// assignMu serializes number assignment per process; the composite key
	// keeps the insert idempotent across retries.
	assignMu sync.Mutex
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LedgerStorage {
	return &LedgerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LedgerStorage) AssignCitation(ctx context.Context, jobID string, source models.CitationSource) (int, error) {
	if jobID == "" {
		return 0, fmt.Errorf("job ID is required")
	}

	hash := source.Hash()
	key := models.LedgerKey(jobID, hash)

	// Fast path: the source is already in the ledger.
	var existing models.CitationEntry
	err := s.db.Store().Get(key, &existing)
	if err == nil {
		return existing.CitationNumber, nil
	}
	if err != badgerhold.ErrNotFound {
		return 0, fmt.Errorf("failed to read ledger entry: %w", err)
	}

	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	// Re-check under the lock in case a concurrent assignment won.
	if err := s.db.Store().Get(key, &existing); err == nil {
		return existing.CitationNumber, nil
	} else if err != badgerhold.ErrNotFound {
		return 0, fmt.Errorf("failed to read ledger entry: %w", err)
	}

	next, err := s.nextNumber(jobID)
	if err != nil {
		return 0, err
	}

	entry := models.CitationEntry{
		ID:             key,
		JobID:          jobID,
		SourceHash:     hash,
		CitationNumber: next,
		Title:          source.Title,
		URL:            source.URL,
		AccessedAt:     time.Now(),
	}

	if err := s.db.Store().Insert(key, &entry); err != nil {
		if err == badgerhold.ErrKeyExists {
			// Lost a race outside this process; the existing number wins.
			if err := s.db.Store().Get(key, &existing); err == nil {
				return existing.CitationNumber, nil
			}
		}
		return 0, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("citation", next).
		Str("url", source.URL).
		Msg("Citation assigned")
	return next, nil
}

func (s *LedgerStorage) nextNumber(jobID string) (int, error) {
	var top []models.CitationEntry
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CitationNumber").Reverse().Limit(1)
	if err := s.db.Store().Find(&top, query); err != nil {
		return 0, fmt.Errorf("failed to read ledger max: %w", err)
	}
	if len(top) == 0 {
		return 1, nil
	}
	return top[0].CitationNumber + 1, nil
}

func (s *LedgerStorage) ListEntries(ctx context.Context, jobID string) ([]*models.CitationEntry, error) {
	var entries []models.CitationEntry
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CitationNumber")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	result := make([]*models.CitationEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *LedgerStorage) CountEntries(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.CitationEntry{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return int(count), nil
}

func (s *LedgerStorage) DeleteEntriesForJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.CitationEntry{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete ledger entries: %w", err)
	}
	return nil
}
