package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	jobs     interfaces.JobStorage
	steps    interfaces.StepStorage
	notes    interfaces.NoteStorage
	ledger   interfaces.LedgerStorage
	sections interfaces.SectionStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	return newManagerWithDB(db, logger), nil
}

func newManagerWithDB(db *BadgerDB, logger arbor.ILogger) *Manager {
	steps := NewStepStorage(db, logger)
	notes := NewNoteStorage(db, logger)
	ledger := NewLedgerStorage(db, logger)
	sections := NewSectionStorage(db, logger)

	manager := &Manager{
		db:       db,
		jobs:     NewJobStorage(db, logger, steps, notes, ledger, sections),
		steps:    steps,
		notes:    notes,
		ledger:   ledger,
		sections: sections,
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager
}

// Jobs returns the job storage interface
func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

// Steps returns the step storage interface
func (m *Manager) Steps() interfaces.StepStorage {
	return m.steps
}

// Notes returns the note storage interface
func (m *Manager) Notes() interfaces.NoteStorage {
	return m.notes
}

// Ledger returns the citation ledger storage interface
func (m *Manager) Ledger() interfaces.LedgerStorage {
	return m.ledger
}

// Sections returns the section draft storage interface
func (m *Manager) Sections() interfaces.SectionStorage {
	return m.sections
}

// RunGC runs a value-log garbage collection pass
func (m *Manager) RunGC() error {
	return m.db.RunGC()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
