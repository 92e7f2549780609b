package models

import "time"

// Frame is one luminance capture. Luma is row-major, normalised to [0,1] and
// must not be modified once the frame has been appended to a ring.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Luma      []float64
}

// Point2D is a point in camera pixels, plane units or projector pixels
// depending on context.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SpectralEstimate is the strongest non-DC component of one pixel's series.
type SpectralEstimate struct {
	DominantBin         int
	DominantFrequencyHz float64
	Magnitude           float64
}

// FrequencyPoint is the centroid of every pixel sharing a dominant bin.
type FrequencyPoint struct {
	X           float64
	Y           float64
	FrequencyHz float64
	Amplitude   float64 // mean magnitude of the member pixels
	Bin         int
	PixelCount  int
}

// Location returns the camera-space centroid.
func (p FrequencyPoint) Location() Point2D {
	return Point2D{X: p.X, Y: p.Y}
}

// EmitterMarker is a projected point blinking at a known frequency.
// Reference is its nominal position in projector (target) coordinates.
type EmitterMarker struct {
	ID          int     `json:"id"`
	FrequencyHz float64 `json:"frequency"`
	Reference   Point2D `json:"reference"`
}

// CorrespondenceMatch pairs a marker with a detected point. Planar is only
// meaningful when PlanarOK is set.
type CorrespondenceMatch struct {
	Marker         EmitterMarker
	Point          FrequencyPoint
	Planar         Point2D
	PlanarOK       bool
	FrequencyDelta float64
}
