package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/himanishpuri/BlinkCal/pkg/models"
)

var ErrImplausible = errors.New("implausible homography")

// UnitSquare is the corner set used when a caller has no reference outline.
var UnitSquare = []models.Point2D{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}

// Bounds is the accepted target area. A zero Width or Height skips the
// bounds test.
type Bounds struct {
	Width, Height float64
	Margin        float64
}

// ValidateCorners maps the reference outline through h and rejects results
// that are non-finite, fall outside b, or lose the outline's convexity and
// winding order. The projected corners are returned either way.
func ValidateCorners(h Homography, corners []models.Point2D, b Bounds) ([]models.Point2D, error) {
	out := make([]models.Point2D, len(corners))
	for i, c := range corners {
		p, err := h.Apply(c)
		if err != nil {
			return out, fmt.Errorf("%w: corner %d: %v", ErrImplausible, i, err)
		}
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return out, fmt.Errorf("%w: corner %d is not finite", ErrImplausible, i)
		}
		out[i] = p
	}

	if b.Width > 0 && b.Height > 0 {
		for i, p := range out {
			if p.X < -b.Margin || p.Y < -b.Margin || p.X > b.Width+b.Margin || p.Y > b.Height+b.Margin {
				return out, fmt.Errorf("%w: corner %d (%.1f, %.1f) outside %gx%g",
					ErrImplausible, i, p.X, p.Y, b.Width, b.Height)
			}
		}
	}

	if len(corners) >= 3 {
		src := windingSign(corners)
		dst := windingSign(out)
		if dst == 0 {
			return out, fmt.Errorf("%w: projected outline is not convex", ErrImplausible)
		}
		if src != 0 && src != dst {
			return out, fmt.Errorf("%w: corner order reversed", ErrImplausible)
		}
	}
	return out, nil
}

// windingSign is +1 or -1 for a strictly convex polygon and 0 otherwise.
func windingSign(pts []models.Point2D) int {
	n := len(pts)
	sign := 0
	for i := 0; i < n; i++ {
		a, b, c := pts[i], pts[(i+1)%n], pts[(i+2)%n]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		s := 0
		switch {
		case cross > 0:
			s = 1
		case cross < 0:
			s = -1
		default:
			return 0
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return 0
		}
	}
	return sign
}
