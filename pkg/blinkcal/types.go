package blinkcal

import (
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// CalibrationRequest is one calibration run over a completed capture.
type CalibrationRequest struct {
	SessionID string
	Batch     *capture.Batch

	// Markers defaults to the blinking circles stored for the session.
	Markers []models.EmitterMarker

	// Camera and Pose enable projection onto the reference plane. Either
	// defaults to the stored record; without a pose the camera image plane
	// is the reference plane.
	Camera *models.CameraConfig
	Pose   *geometry.Pose

	// Corners is the reference outline checked after fitting. It defaults
	// to the bounding box of the inlier plane points.
	Corners []models.Point2D
	// Bounds is the target area the projected corners must fall into.
	Bounds geometry.Bounds
}

// CalibrationResult carries every intermediate product of a run so callers
// can report on partial progress.
type CalibrationResult struct {
	SessionID      string
	SamplingRateHz float64
	RateStats      capture.RateStats
	ResolutionHz   float64

	Points    []models.FrequencyPoint
	Matches   []models.CorrespondenceMatch
	Unmatched []models.EmitterMarker
	Pairs     []geometry.PointPair // plane point -> marker reference, one per projected match

	Homography  geometry.Homography
	Inliers     []bool // indexed like Pairs
	InlierCount int
	RMSError    float64
	Corners     []models.Point2D

	Record *models.CalibrationRecord
}
