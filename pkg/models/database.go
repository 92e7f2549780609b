package models

import "time"

// BlinkingCircle is one emitter as configured for a session. ID is the
// caller's marker ID; records written without one fall back to position.
type BlinkingCircle struct {
	ID        int     `json:"id,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Frequency float64 `json:"frequency"`
}

// FFTCenter is one frequency point as detected by the camera.
type FFTCenter struct {
	Freq float64 `json:"freq"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// CameraConfig holds the intrinsics the calibration assumes: square pixels
// and a principal point at the image centre.
type CameraConfig struct {
	Resolution  string  `json:"resolution"` // "WxH"
	FocalLength float64 `json:"focalLength"`
}

// CalibrationRecord is the persisted document for one session.
type CalibrationRecord struct {
	SessionID         string           `json:"sessionId"`
	BlinkingCircles   []BlinkingCircle `json:"blinkingCircles,omitempty"`
	FFTCenters        []FFTCenter      `json:"fftCenters,omitempty"`
	PoseMatrix        []float64        `json:"poseMatrix,omitempty"`
	CameraConfig      *CameraConfig    `json:"cameraConfig,omitempty"`
	PaperToProjection []float64        `json:"paperToProjection,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// RecordPatch is a partial update. Nil fields are left untouched in storage.
type RecordPatch struct {
	BlinkingCircles   *[]BlinkingCircle `json:"blinkingCircles,omitempty"`
	FFTCenters        *[]FFTCenter      `json:"fftCenters,omitempty"`
	PoseMatrix        *[]float64        `json:"poseMatrix,omitempty"`
	CameraConfig      *CameraConfig     `json:"cameraConfig,omitempty"`
	PaperToProjection *[]float64        `json:"paperToProjection,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p RecordPatch) Empty() bool {
	return p.BlinkingCircles == nil && p.FFTCenters == nil && p.PoseMatrix == nil &&
		p.CameraConfig == nil && p.PaperToProjection == nil
}

// CirclesFromMarkers converts a marker catalogue into its persisted form.
func CirclesFromMarkers(markers []EmitterMarker) []BlinkingCircle {
	out := make([]BlinkingCircle, len(markers))
	for i, m := range markers {
		out[i] = BlinkingCircle{ID: m.ID, X: m.Reference.X, Y: m.Reference.Y, Frequency: m.FrequencyHz}
	}
	return out
}

// MarkersFromCircles is the inverse of CirclesFromMarkers. Circles stored
// without an ID get their 1-based catalogue position.
func MarkersFromCircles(circles []BlinkingCircle) []EmitterMarker {
	out := make([]EmitterMarker, len(circles))
	for i, c := range circles {
		id := c.ID
		if id == 0 {
			id = i + 1
		}
		out[i] = EmitterMarker{ID: id, FrequencyHz: c.Frequency, Reference: Point2D{X: c.X, Y: c.Y}}
	}
	return out
}

// CentersFromPoints converts detected frequency points into their persisted form.
func CentersFromPoints(points []FrequencyPoint) []FFTCenter {
	out := make([]FFTCenter, len(points))
	for i, p := range points {
		out[i] = FFTCenter{Freq: p.FrequencyHz, X: p.X, Y: p.Y}
	}
	return out
}
