package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/himanishpuri/BlinkCal/pkg/models"
)

var ErrResolution = errors.New("invalid camera resolution")

// Intrinsics is a pinhole camera without distortion.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
	Width  int
	Height int
}

// ParseResolution parses "WxH".
func ParseResolution(s string) (int, int, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrResolution, s)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrResolution, s)
	}
	return w, h, nil
}

// FormatResolution is the inverse of ParseResolution.
func FormatResolution(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}

// IntrinsicsFromConfig builds intrinsics assuming fx = fy = focal length and
// a principal point at the image centre.
func IntrinsicsFromConfig(cfg models.CameraConfig) (Intrinsics, error) {
	w, h, err := ParseResolution(cfg.Resolution)
	if err != nil {
		return Intrinsics{}, err
	}
	if cfg.FocalLength <= 0 {
		return Intrinsics{}, fmt.Errorf("focal length must be positive, got %.3f", cfg.FocalLength)
	}
	return Intrinsics{
		Fx:     cfg.FocalLength,
		Fy:     cfg.FocalLength,
		Cx:     float64(w) / 2,
		Cy:     float64(h) / 2,
		Width:  w,
		Height: h,
	}, nil
}

// Ray returns the camera-space direction through pixel p (z = 1).
func (in Intrinsics) Ray(p models.Point2D) [3]float64 {
	return [3]float64{(p.X - in.Cx) / in.Fx, (p.Y - in.Cy) / in.Fy, 1}
}
