//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/BlinkCal/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "blinkcal.sqlite3"
const errDBClientNil = "db client is nil"

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Calibration is one session row. List fields are stored as JSON text; an
// empty column means the field was never written.
type Calibration struct {
	SessionID         string `gorm:"column:session_id;primaryKey;type:varchar(64)"`
	BlinkingCircles   string `gorm:"column:blinking_circles;type:text"`
	FFTCenters        string `gorm:"column:fft_centers;type:text"`
	PoseMatrix        string `gorm:"column:pose_matrix;type:text"`
	CameraConfig      string `gorm:"column:camera_config;type:text"`
	PaperToProjection string `gorm:"column:paper_to_projection;type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time `gorm:"index:idx_calibration_updated"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("BLINKCAL_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// A single writer avoids SQLITE_BUSY inside merge transactions.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Calibration{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// MergeRecord applies patch to the session's row, creating it when absent.
// Columns whose patch field is nil are not touched.
func (c *DBClient) MergeRecord(sessionID string, patch models.RecordPatch) (*models.CalibrationRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	if sessionID == "" {
		return nil, errors.New("session id is empty")
	}

	cols, err := patchColumns(patch)
	if err != nil {
		return nil, err
	}

	err = c.DB.Transaction(func(tx *gorm.DB) error {
		var row Calibration
		err := tx.Where("session_id = ?", sessionID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = Calibration{SessionID: sessionID}
			setColumns(&row, cols)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("creating record: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying record: %w", err)
		}
		if len(cols) == 0 {
			return nil
		}
		updates := make(map[string]any, len(cols)+1)
		for k, v := range cols {
			updates[k] = v
		}
		updates["updated_at"] = time.Now()
		if err := tx.Model(&Calibration{}).Where("session_id = ?", sessionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.GetRecord(sessionID)
}

func (c *DBClient) GetRecord(sessionID string) (*models.CalibrationRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row Calibration
	err := c.DB.Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}
	return row.toRecord()
}

// ListRecords returns every record, most recently updated first.
func (c *DBClient) ListRecords() ([]models.CalibrationRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Calibration
	if err := c.DB.Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	out := make([]models.CalibrationRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (c *DBClient) DeleteRecord(sessionID string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	res := c.DB.Where("session_id = ?", sessionID).Delete(&Calibration{})
	if res.Error != nil {
		return fmt.Errorf("deleting record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// patchColumns encodes the present fields of patch keyed by column name.
func patchColumns(p models.RecordPatch) (map[string]string, error) {
	cols := make(map[string]string)
	add := func(col string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", col, err)
		}
		cols[col] = string(b)
		return nil
	}
	if p.BlinkingCircles != nil {
		if err := add("blinking_circles", nonNil(*p.BlinkingCircles)); err != nil {
			return nil, err
		}
	}
	if p.FFTCenters != nil {
		if err := add("fft_centers", nonNil(*p.FFTCenters)); err != nil {
			return nil, err
		}
	}
	if p.PoseMatrix != nil {
		if err := add("pose_matrix", nonNil(*p.PoseMatrix)); err != nil {
			return nil, err
		}
	}
	if p.CameraConfig != nil {
		if err := add("camera_config", p.CameraConfig); err != nil {
			return nil, err
		}
	}
	if p.PaperToProjection != nil {
		if err := add("paper_to_projection", nonNil(*p.PaperToProjection)); err != nil {
			return nil, err
		}
	}
	return cols, nil
}

// nonNil keeps an explicitly empty list from being stored as JSON null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func setColumns(row *Calibration, cols map[string]string) {
	for k, v := range cols {
		switch k {
		case "blinking_circles":
			row.BlinkingCircles = v
		case "fft_centers":
			row.FFTCenters = v
		case "pose_matrix":
			row.PoseMatrix = v
		case "camera_config":
			row.CameraConfig = v
		case "paper_to_projection":
			row.PaperToProjection = v
		}
	}
}

func (r Calibration) toRecord() (*models.CalibrationRecord, error) {
	rec := &models.CalibrationRecord{
		SessionID: r.SessionID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	fields := []struct {
		col  string
		text string
		dst  any
	}{
		{"blinking_circles", r.BlinkingCircles, &rec.BlinkingCircles},
		{"fft_centers", r.FFTCenters, &rec.FFTCenters},
		{"pose_matrix", r.PoseMatrix, &rec.PoseMatrix},
		{"camera_config", r.CameraConfig, &rec.CameraConfig},
		{"paper_to_projection", r.PaperToProjection, &rec.PaperToProjection},
	}
	for _, f := range fields {
		if f.text == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.text), f.dst); err != nil {
			return nil, fmt.Errorf("decoding %s of %s: %w", f.col, r.SessionID, err)
		}
	}
	return rec, nil
}
