package blinkcal

import (
	"strings"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/storage"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// storageAdapter adapts storage.DBClient to the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) MergeRecord(sessionID string, patch models.RecordPatch) (*models.CalibrationRecord, error) {
	return s.db.MergeRecord(strings.TrimSpace(sessionID), patch)
}

func (s *storageAdapter) GetRecord(sessionID string) (*models.CalibrationRecord, error) {
	return s.db.GetRecord(strings.TrimSpace(sessionID))
}

func (s *storageAdapter) ListRecords() ([]models.CalibrationRecord, error) {
	return s.db.ListRecords()
}

func (s *storageAdapter) DeleteRecord(sessionID string) error {
	return s.db.DeleteRecord(strings.TrimSpace(sessionID))
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}
