package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrPose = errors.New("invalid pose matrix")

// Pose is a camera-to-plane rigid transform: a camera-space point Xc maps to
// plane coordinates R*Xc + T, and the reference plane is z = 0.
type Pose struct {
	M *mat.Dense // 4x4 homogeneous
}

// IdentityPose returns the camera frame itself.
func IdentityPose() Pose {
	return Pose{M: identity4()}
}

func identity4() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// NewPose assembles a pose from a row-major 3x3 rotation and a translation.
func NewPose(r [9]float64, t [3]float64) Pose {
	m := identity4()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, r[i*3+j])
		}
		m.Set(i, 3, t[i])
	}
	return Pose{M: m}
}

// TranslationPose is a pose with no rotation.
func TranslationPose(tx, ty, tz float64) Pose {
	return NewPose([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, [3]float64{tx, ty, tz})
}

// RotationX returns a rotation of angle radians about the x axis.
func RotationX(angle float64) [9]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [9]float64{1, 0, 0, 0, c, -s, 0, s, c}
}

// Apply maps a camera-space point into plane coordinates.
func (p Pose) Apply(v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = p.M.At(i, 0)*v[0] + p.M.At(i, 1)*v[1] + p.M.At(i, 2)*v[2] + p.M.At(i, 3)
	}
	return out
}

// Rotate applies only the rotational part, for directions.
func (p Pose) Rotate(v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = p.M.At(i, 0)*v[0] + p.M.At(i, 1)*v[1] + p.M.At(i, 2)*v[2]
	}
	return out
}

// Inverse returns the plane-to-camera transform.
func (p Pose) Inverse() (Pose, error) {
	var inv mat.Dense
	if err := inv.Inverse(p.M); err != nil {
		return Pose{}, fmt.Errorf("%w: %v", ErrPose, err)
	}
	return Pose{M: &inv}, nil
}

// PoseToSlice flattens a pose row-major into 16 values.
func PoseToSlice(p Pose) []float64 {
	out := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i*4+j] = p.M.At(i, j)
		}
	}
	return out
}

// PoseFromSlice accepts 16 row-major values, or 12 for a 3x4 [R|T].
func PoseFromSlice(v []float64) (Pose, error) {
	switch len(v) {
	case 16:
		m := mat.NewDense(4, 4, append([]float64(nil), v...))
		if m.At(3, 3) == 0 {
			return Pose{}, fmt.Errorf("%w: zero homogeneous scale", ErrPose)
		}
		return Pose{M: m}, nil
	case 12:
		m := identity4()
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				m.Set(i, j, v[i*4+j])
			}
		}
		return Pose{M: m}, nil
	default:
		return Pose{}, fmt.Errorf("%w: want 12 or 16 values, got %d", ErrPose, len(v))
	}
}

// PoseCodec serialises poses for collaborators that store opaque bytes.
type PoseCodec struct{}

func (PoseCodec) Serialize(p Pose) ([]byte, error) {
	if p.M == nil {
		return nil, fmt.Errorf("%w: nil matrix", ErrPose)
	}
	return p.M.MarshalBinary()
}

func (PoseCodec) Deserialize(b []byte) (Pose, error) {
	var m mat.Dense
	if err := m.UnmarshalBinary(b); err != nil {
		return Pose{}, fmt.Errorf("%w: %v", ErrPose, err)
	}
	if r, c := m.Dims(); r != 4 || c != 4 {
		return Pose{}, fmt.Errorf("%w: %dx%d", ErrPose, r, c)
	}
	return Pose{M: &m}, nil
}
