package geometry

import (
	"math"
	"testing"

	"github.com/himanishpuri/BlinkCal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIntrinsics(t *testing.T) Intrinsics {
	t.Helper()
	in, err := IntrinsicsFromConfig(models.CameraConfig{Resolution: "640x480", FocalLength: 500})
	require.NoError(t, err)
	return in
}

func TestParseResolution(t *testing.T) {
	w, h, err := ParseResolution(" 1920X1080 ")
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
	assert.Equal(t, "1920x1080", FormatResolution(w, h))

	for _, bad := range []string{"", "640", "640x", "0x480", "axb", "1x2x3"} {
		_, _, err := ParseResolution(bad)
		assert.ErrorIs(t, err, ErrResolution, bad)
	}
}

func TestIntrinsicsFromConfig(t *testing.T) {
	in := testIntrinsics(t)
	assert.Equal(t, 320.0, in.Cx)
	assert.Equal(t, 240.0, in.Cy)

	_, err := IntrinsicsFromConfig(models.CameraConfig{Resolution: "640x480"})
	assert.Error(t, err)
}

func TestProjectImageCenter(t *testing.T) {
	in := testIntrinsics(t)
	// Camera one metre in front of the plane, looking straight at it.
	pose := TranslationPose(0, 0, -1)

	p, err := ProjectToPlane(models.Point2D{X: 320, Y: 240}, in, pose)
	require.NoError(t, err)
	assert.InDelta(t, 0, p.X, 1e-12)
	assert.InDelta(t, 0, p.Y, 1e-12)

	// 100 px right of centre at f = 500 is 0.2 plane units at depth 1.
	p, err = ProjectToPlane(models.Point2D{X: 420, Y: 240}, in, pose)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, p.X, 1e-12)
}

func TestProjectRoundTrip(t *testing.T) {
	in := testIntrinsics(t)
	pose := NewPose(RotationX(0.3), [3]float64{0.1, -0.2, -2})

	pixel := models.Point2D{X: 150, Y: 300}
	plane, err := ProjectToPlane(pixel, in, pose)
	require.NoError(t, err)

	back, err := PlaneToPixel(plane, in, pose)
	require.NoError(t, err)
	assert.InDelta(t, pixel.X, back.X, 1e-9)
	assert.InDelta(t, pixel.Y, back.Y, 1e-9)
}

func TestProjectParallelRay(t *testing.T) {
	in := testIntrinsics(t)
	// Rotating the camera 90 degrees puts its optical axis in the plane.
	pose := NewPose(RotationX(math.Pi/2), [3]float64{0, 0, -1})

	_, err := ProjectToPlane(models.Point2D{X: 320, Y: 240}, in, pose)
	assert.ErrorIs(t, err, ErrDegenerateRay)
}

func TestProjectBehindCamera(t *testing.T) {
	in := testIntrinsics(t)
	_, err := ProjectToPlane(models.Point2D{X: 320, Y: 240}, in, TranslationPose(0, 0, 1))
	assert.ErrorIs(t, err, ErrBehindCamera)
}

func TestPoseSliceRoundTrip(t *testing.T) {
	pose := NewPose(RotationX(0.5), [3]float64{1, 2, 3})

	v := PoseToSlice(pose)
	require.Len(t, v, 16)
	back, err := PoseFromSlice(v)
	require.NoError(t, err)
	assert.Equal(t, v, PoseToSlice(back))

	short, err := PoseFromSlice(v[:12])
	require.NoError(t, err)
	assert.Equal(t, v, PoseToSlice(short))

	_, err = PoseFromSlice(v[:5])
	assert.ErrorIs(t, err, ErrPose)
}

func TestPoseCodec(t *testing.T) {
	var codec PoseCodec
	pose := TranslationPose(4, 5, 6)

	b, err := codec.Serialize(pose)
	require.NoError(t, err)
	got, err := codec.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, PoseToSlice(pose), PoseToSlice(got))

	_, err = codec.Deserialize([]byte("junk"))
	assert.ErrorIs(t, err, ErrPose)
}

func TestPoseInverse(t *testing.T) {
	pose := NewPose(RotationX(0.7), [3]float64{1, -1, 2})
	inv, err := pose.Inverse()
	require.NoError(t, err)

	x := [3]float64{0.3, 0.4, 0.5}
	y := inv.Apply(pose.Apply(x))
	for i := range x {
		assert.InDelta(t, x[i], y[i], 1e-12)
	}
}
