package main

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// Upload limits for POST /api/sessions/{id}/calibrate
const (
	// MaxFrames bounds one upload; 1024 frames is ~17 s at 60 Hz.
	MaxFrames = 1024

	// MaxBodyBytes caps the request body including base64 overhead.
	MaxBodyBytes = 256 << 20

	// MaxSeriesLength bounds POST /api/analyze/pixel.
	MaxSeriesLength = 1 << 16
)

// CreateSessionRequest is the request body for POST /api/sessions
type CreateSessionRequest struct {
	// SessionID is optional; a UUID is generated when empty.
	SessionID string                 `json:"sessionId,omitempty"`
	Markers   []models.EmitterMarker `json:"markers"`
}

func (r *CreateSessionRequest) Validate() error {
	if len(r.Markers) == 0 {
		return fmt.Errorf("markers cannot be empty")
	}
	return validateMarkers(r.Markers)
}

func validateMarkers(markers []models.EmitterMarker) error {
	for i, m := range markers {
		if !(m.FrequencyHz > 0) || math.IsInf(m.FrequencyHz, 0) {
			return fmt.Errorf("marker %d: frequency must be positive", i)
		}
		if !finite(m.Reference.X) || !finite(m.Reference.Y) {
			return fmt.Errorf("marker %d: reference must be finite", i)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// BoundsDTO is the projector area validated corners must fall into.
type BoundsDTO struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Margin float64 `json:"margin,omitempty"`
}

// CalibrateRequest is the request body for POST /api/sessions/{id}/calibrate
type CalibrateRequest struct {
	// Frames are base64 encoded PNG or JPEG images in capture order.
	// The count must be a power of two.
	Frames []string `json:"frames"`

	// FrameRateHz is the capture rate; the server default applies when zero.
	FrameRateHz float64 `json:"frameRateHz,omitempty"`

	// Optional overrides of what is stored for the session
	Markers []models.EmitterMarker `json:"markers,omitempty"`
	Camera  *models.CameraConfig   `json:"cameraConfig,omitempty"`
	Pose    []float64              `json:"poseMatrix,omitempty"`
	Corners []models.Point2D       `json:"corners,omitempty"`
	Bounds  *BoundsDTO             `json:"bounds,omitempty"`
}

func (r *CalibrateRequest) Validate() error {
	if len(r.Frames) == 0 {
		return fmt.Errorf("frames cannot be empty")
	}
	if len(r.Frames) > MaxFrames {
		return fmt.Errorf("too many frames: %d (maximum: %d)", len(r.Frames), MaxFrames)
	}
	if !capture.IsPowerOfTwo(len(r.Frames)) {
		return fmt.Errorf("frame count must be a power of two, got %d", len(r.Frames))
	}
	if r.FrameRateHz < 0 || !finite(r.FrameRateHz) {
		return fmt.Errorf("frameRateHz must be positive")
	}
	return validateMarkers(r.Markers)
}

// decodeFrames turns the uploaded images into frames stamped at the nominal
// rate, so the batch always carries a usable timeline.
func decodeFrames(encoded []string, rateHz float64, decode func([]byte) (models.Frame, error)) ([]models.Frame, error) {
	frames := make([]models.Frame, len(encoded))
	start := time.Now()
	step := time.Duration(float64(time.Second) / rateHz)
	for i, s := range encoded {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("frame %d: invalid base64: %w", i, err)
		}
		f, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		f.Timestamp = start.Add(time.Duration(i) * step)
		frames[i] = f
	}
	return frames, nil
}

// PointDTO is a detected frequency point.
type PointDTO struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	FrequencyHz float64 `json:"frequency"`
	Amplitude   float64 `json:"amplitude"`
	PixelCount  int     `json:"pixelCount"`
}

// MatchDTO pairs a marker with the point it was matched to.
type MatchDTO struct {
	MarkerID       int             `json:"markerId"`
	Point          PointDTO        `json:"point"`
	Planar         *models.Point2D `json:"planar,omitempty"`
	FrequencyDelta float64         `json:"frequencyDelta"`
}

// CalibrateResponse is the response for POST /api/sessions/{id}/calibrate.
// On failure Stage names the step that failed and the partial products up
// to that step are still filled in.
type CalibrateResponse struct {
	SessionID      string                    `json:"sessionId"`
	SamplingRateHz float64                   `json:"samplingRateHz"`
	ResolutionHz   float64                   `json:"resolutionHz"`
	StableRate     bool                      `json:"stableRate"`
	Points         []PointDTO                `json:"points"`
	Matches        []MatchDTO                `json:"matches"`
	UnmatchedIDs   []int                     `json:"unmatchedMarkerIds,omitempty"`
	Homography     []float64                 `json:"paperToProjection,omitempty"`
	InlierCount    int                       `json:"inlierCount"`
	RMSError       float64                   `json:"rmsError"`
	Corners        []models.Point2D          `json:"corners,omitempty"`
	Record         *models.CalibrationRecord `json:"record,omitempty"`
	Stage          string                    `json:"stage,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

func newCalibrateResponse(res *blinkcal.CalibrationResult) CalibrateResponse {
	resp := CalibrateResponse{
		SessionID:      res.SessionID,
		SamplingRateHz: res.SamplingRateHz,
		ResolutionHz:   res.ResolutionHz,
		StableRate:     res.RateStats.Stable || !res.RateStats.FromTimeline,
		Points:         make([]PointDTO, len(res.Points)),
		Matches:        make([]MatchDTO, len(res.Matches)),
		InlierCount:    res.InlierCount,
		RMSError:       res.RMSError,
		Corners:        res.Corners,
		Record:         res.Record,
	}
	for i, p := range res.Points {
		resp.Points[i] = pointDTO(p)
	}
	for i, m := range res.Matches {
		dto := MatchDTO{MarkerID: m.Marker.ID, Point: pointDTO(m.Point), FrequencyDelta: m.FrequencyDelta}
		if m.PlanarOK {
			planar := m.Planar
			dto.Planar = &planar
		}
		resp.Matches[i] = dto
	}
	for _, m := range res.Unmatched {
		resp.UnmatchedIDs = append(resp.UnmatchedIDs, m.ID)
	}
	if res.InlierCount > 0 {
		resp.Homography = res.Homography.Slice()
	}
	return resp
}

func pointDTO(p models.FrequencyPoint) PointDTO {
	return PointDTO{X: p.X, Y: p.Y, FrequencyHz: p.FrequencyHz, Amplitude: p.Amplitude, PixelCount: p.PixelCount}
}

// SessionSummary represents a record in list responses
type SessionSummary struct {
	SessionID  string    `json:"sessionId"`
	Markers    int       `json:"markers"`
	Detected   int       `json:"detected"`
	Calibrated bool      `json:"calibrated"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ListSessionsResponse is the response for GET /api/sessions
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Count    int              `json:"count"`
}

// DeleteSessionResponse is the response for DELETE /api/sessions/{id}
type DeleteSessionResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// AnalyzePixelRequest is the request body for POST /api/analyze/pixel
type AnalyzePixelRequest struct {
	Series         []float64 `json:"series"`
	SamplingRateHz float64   `json:"samplingRateHz"`

	// ExcludedBins defaults to the server's configured count when omitted.
	ExcludedBins *int `json:"excludedBins,omitempty"`
}

// Excluded returns the requested excluded-bin count, or def when unset.
func (r *AnalyzePixelRequest) Excluded(def int) int {
	if r.ExcludedBins == nil {
		return def
	}
	return *r.ExcludedBins
}

func (r *AnalyzePixelRequest) Validate(defaultExcluded int) error {
	n := len(r.Series)
	if n < 2 || n > MaxSeriesLength || !capture.IsPowerOfTwo(n) {
		return fmt.Errorf("series length must be a power of two between 2 and %d, got %d", MaxSeriesLength, n)
	}
	if !(r.SamplingRateHz > 0) || math.IsInf(r.SamplingRateHz, 0) {
		return fmt.Errorf("samplingRateHz must be positive")
	}
	if ex := r.Excluded(defaultExcluded); ex < 0 || ex >= n/2 {
		return fmt.Errorf("excludedBins must be in [0, %d), got %d", n/2, ex)
	}
	return nil
}

// AnalyzePixelResponse is the response for POST /api/analyze/pixel
type AnalyzePixelResponse struct {
	DominantBin         int     `json:"dominantBin"`
	DominantFrequencyHz float64 `json:"dominantFrequencyHz"`
	Magnitude           float64 `json:"magnitude"`
	ResolutionHz        float64 `json:"resolutionHz"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
	Stage   string `json:"stage,omitempty"`
}
