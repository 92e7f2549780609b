package blinkcal

import (
	"context"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

type Service interface {
	Capture(ctx context.Context, sessionID string, src capture.Source) (*capture.Batch, error)
	Calibrate(ctx context.Context, req CalibrationRequest) (*CalibrationResult, error)
	SaveMarkers(sessionID string, markers []models.EmitterMarker) (*models.CalibrationRecord, error)
	UpdateRecord(sessionID string, patch models.RecordPatch) (*models.CalibrationRecord, error)
	GetRecord(sessionID string) (*models.CalibrationRecord, error)
	ListRecords() ([]models.CalibrationRecord, error)
	DeleteRecord(sessionID string) error
	Close() error
}

// Storage persists calibration records. MergeRecord creates the record when
// missing and otherwise writes only the fields present in the patch.
type Storage interface {
	MergeRecord(sessionID string, patch models.RecordPatch) (*models.CalibrationRecord, error)
	GetRecord(sessionID string) (*models.CalibrationRecord, error)
	ListRecords() ([]models.CalibrationRecord, error)
	DeleteRecord(sessionID string) error
	Close() error
}

// Publisher announces finished calibrations to other processes.
type Publisher interface {
	Publish(ctx context.Context, rec *models.CalibrationRecord) error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
