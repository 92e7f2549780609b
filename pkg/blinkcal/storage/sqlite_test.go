package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// setupTestDB opens a fresh database under t.TempDir through the env path.
func setupTestDB(t *testing.T) (*DBClient, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_blinkcal.sqlite3")
	t.Setenv("BLINKCAL_DB_PATH", dbPath)

	client, err := NewDBClient()
	if err != nil {
		t.Fatalf("Failed to create test DB client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client, dbPath
}

func TestNewDBClient(t *testing.T) {
	client, dbPath := setupTestDB(t)

	if client.DB == nil || client.db == nil {
		t.Fatal("Expected non-nil database handles")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
}

func TestNewDBClientCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "cal.sqlite3")
	client, err := NewDBClientWithPath(dbPath)
	if err != nil {
		t.Fatalf("NewDBClientWithPath: %v", err)
	}
	defer client.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected db file: %v", err)
	}
}

func TestMergeRecordCreatesMissing(t *testing.T) {
	client, _ := setupTestDB(t)

	circles := []models.BlinkingCircle{{X: 10, Y: 20, Frequency: 6}, {X: 30, Y: 40, Frequency: 8}}
	rec, err := client.MergeRecord("s1", models.RecordPatch{BlinkingCircles: &circles})
	if err != nil {
		t.Fatalf("MergeRecord: %v", err)
	}

	if rec.SessionID != "s1" {
		t.Errorf("SessionID = %q", rec.SessionID)
	}
	if diff := cmp.Diff(circles, rec.BlinkingCircles); diff != "" {
		t.Errorf("circles mismatch (-want +got):\n%s", diff)
	}
	if rec.FFTCenters != nil || rec.PaperToProjection != nil || rec.CameraConfig != nil {
		t.Errorf("unset fields should stay absent: %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestMergeRecordLeavesOtherFieldsAlone(t *testing.T) {
	client, _ := setupTestDB(t)

	circles := []models.BlinkingCircle{{X: 1, Y: 2, Frequency: 5}}
	cam := models.CameraConfig{Resolution: "640x480", FocalLength: 500}
	if _, err := client.MergeRecord("s1", models.RecordPatch{BlinkingCircles: &circles, CameraConfig: &cam}); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	h := []float64{100, 0, 0, 0, 100, 0, 0, 0, 1}
	rec, err := client.MergeRecord("s1", models.RecordPatch{PaperToProjection: &h})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	want := &models.CalibrationRecord{
		SessionID:         "s1",
		BlinkingCircles:   circles,
		CameraConfig:      &cam,
		PaperToProjection: h,
	}
	if diff := cmp.Diff(want, rec, cmp.FilterPath(func(p cmp.Path) bool {
		name := p.Last().String()
		return name == ".CreatedAt" || name == ".UpdatedAt"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeRecordOverwritesPresentField(t *testing.T) {
	client, _ := setupTestDB(t)

	first := []models.FFTCenter{{Freq: 6, X: 1, Y: 1}}
	second := []models.FFTCenter{{Freq: 8, X: 2, Y: 2}, {Freq: 9, X: 3, Y: 3}}
	if _, err := client.MergeRecord("s1", models.RecordPatch{FFTCenters: &first}); err != nil {
		t.Fatal(err)
	}
	before, _ := client.GetRecord("s1")
	time.Sleep(5 * time.Millisecond)

	rec, err := client.MergeRecord("s1", models.RecordPatch{FFTCenters: &second})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(second, rec.FFTCenters); diff != "" {
		t.Errorf("centers mismatch (-want +got):\n%s", diff)
	}
	if !rec.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v -> %v", before.UpdatedAt, rec.UpdatedAt)
	}
	if !rec.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", before.CreatedAt, rec.CreatedAt)
	}
}

func TestMergeRecordExplicitEmptyList(t *testing.T) {
	client, _ := setupTestDB(t)

	centers := []models.FFTCenter{{Freq: 6}}
	client.MergeRecord("s1", models.RecordPatch{FFTCenters: &centers})

	var none []models.FFTCenter
	rec, err := client.MergeRecord("s1", models.RecordPatch{FFTCenters: &none})
	if err != nil {
		t.Fatal(err)
	}
	if rec.FFTCenters == nil || len(rec.FFTCenters) != 0 {
		t.Errorf("expected an empty, present list, got %#v", rec.FFTCenters)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	client, _ := setupTestDB(t)

	_, err := client.GetRecord("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	client, _ := setupTestDB(t)

	pose := []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, -1, 0, 0, 0, 1}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := client.MergeRecord(id, models.RecordPatch{PoseMatrix: &pose}); err != nil {
			t.Fatalf("merge %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	recs, err := client.ListRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].SessionID != "c" {
		t.Errorf("expected most recent first, got %q", recs[0].SessionID)
	}

	if err := client.DeleteRecord("b"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if err := client.DeleteRecord("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	recs, _ = client.ListRecords()
	if len(recs) != 2 {
		t.Errorf("expected 2 records after delete, got %d", len(recs))
	}
}

func TestNilClient(t *testing.T) {
	var c *DBClient
	if _, err := c.GetRecord("x"); err == nil {
		t.Error("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil client: %v", err)
	}
}
