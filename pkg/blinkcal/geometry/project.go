package geometry

import (
	"errors"
	"math"

	"github.com/himanishpuri/BlinkCal/pkg/models"
)

var (
	ErrDegenerateRay = errors.New("ray parallel to the reference plane")
	ErrBehindCamera  = errors.New("plane intersection behind the camera")
)

// parallelEps bounds |d.z| below which a ray counts as parallel to the plane.
const parallelEps = 1e-12

// ProjectToPlane back-projects a camera pixel through the pinhole model and
// intersects the ray with the z = 0 plane of the pose's target frame.
func ProjectToPlane(pixel models.Point2D, in Intrinsics, pose Pose) (models.Point2D, error) {
	origin := pose.Apply([3]float64{0, 0, 0})
	dir := pose.Rotate(in.Ray(pixel))

	if math.Abs(dir[2]) < parallelEps {
		return models.Point2D{}, ErrDegenerateRay
	}
	t := -origin[2] / dir[2]
	if t <= 0 {
		return models.Point2D{}, ErrBehindCamera
	}
	return models.Point2D{X: origin[0] + t*dir[0], Y: origin[1] + t*dir[1]}, nil
}

// PlaneToPixel projects a plane point back into the camera image. It is the
// inverse of ProjectToPlane and is used for diagnostics.
func PlaneToPixel(p models.Point2D, in Intrinsics, pose Pose) (models.Point2D, error) {
	inv, err := pose.Inverse()
	if err != nil {
		return models.Point2D{}, err
	}
	c := inv.Apply([3]float64{p.X, p.Y, 0})
	if c[2] <= 0 {
		return models.Point2D{}, ErrBehindCamera
	}
	return models.Point2D{X: in.Fx*c[0]/c[2] + in.Cx, Y: in.Fy*c[1]/c[2] + in.Cy}, nil
}
