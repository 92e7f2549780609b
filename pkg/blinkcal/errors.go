package blinkcal

import (
	"errors"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/storage"
)

// Stage names the pipeline step a failure belongs to.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageMarkers    Stage = "markers"
	StageNyquist    Stage = "nyquist"
	StageAnalyze    Stage = "spectral analysis"
	StageProject    Stage = "projection"
	StageHomography Stage = "homography"
	StageValidate   Stage = "validation"
	StagePersist    Stage = "storage"
)

var (
	ErrNoMarkers = errors.New("no emitter markers configured")
	ErrNoCamera  = errors.New("pose supplied without camera config")
	ErrNotFound  = storage.ErrNotFound

	// ErrInvalidRecord wraps rejected pose, camera or homography fields.
	ErrInvalidRecord = errors.New("invalid record field")
)

// StageError attributes a fatal pipeline failure to the stage that raised it
// so callers can tell the operator what to redo.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage returns the stage of the first StageError in err's chain.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
