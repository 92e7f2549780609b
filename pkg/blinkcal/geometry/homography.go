package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/himanishpuri/BlinkCal/pkg/models"
	"gonum.org/v1/gonum/mat"
)

// MinCorrespondences is the number of point pairs a homography needs.
const MinCorrespondences = 4

var (
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	ErrCollinear                   = errors.New("correspondence points are collinear")
	ErrDegenerate                  = errors.New("degenerate correspondence configuration")
	ErrPointAtInfinity             = errors.New("point maps to infinity")
)

// Homography is a row-major 3x3 projective matrix with H[8] == 1.
type Homography [9]float64

// IdentityHomography maps every point to itself.
func IdentityHomography() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps p through h.
func (h Homography) Apply(p models.Point2D) (models.Point2D, error) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-15 {
		return models.Point2D{}, ErrPointAtInfinity
	}
	return models.Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, nil
}

func (h Homography) Slice() []float64 { return append([]float64(nil), h[:]...) }

// Dense returns h as a gonum matrix.
func (h Homography) Dense() *mat.Dense { return mat.NewDense(3, 3, h.Slice()) }

// HomographyFromSlice reads 9 row-major values and rescales so H[8] == 1.
func HomographyFromSlice(v []float64) (Homography, error) {
	if len(v) != 9 {
		return Homography{}, fmt.Errorf("homography needs 9 values, got %d", len(v))
	}
	var h Homography
	copy(h[:], v)
	return normalizeScale(h)
}

// Inverse returns the reverse mapping.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return Homography{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = inv.At(i, j)
		}
	}
	return normalizeScale(out)
}

func normalizeScale(h Homography) (Homography, error) {
	if math.Abs(h[8]) < 1e-12 {
		return Homography{}, fmt.Errorf("%w: H[2][2] is zero", ErrDegenerate)
	}
	s := h[8]
	for i := range h {
		h[i] /= s
	}
	return h, nil
}

// PointPair is one reference-plane point and its target-domain image.
type PointPair struct {
	Src models.Point2D
	Dst models.Point2D
}

// NullSpaceSolver returns the unit vector x minimising |Ax|.
type NullSpaceSolver interface {
	SolveHomogeneousLeastSquares(a *mat.Dense) ([]float64, error)
}

// SVDSolver solves the homogeneous system with gonum's SVD.
type SVDSolver struct{}

// rankEps is the relative size of the second-smallest singular value below
// which the null space is considered more than one-dimensional.
const rankEps = 1e-10

func (SVDSolver) SolveHomogeneousLeastSquares(a *mat.Dense) ([]float64, error) {
	r, c := a.Dims()
	if r < c {
		// Zero rows leave the null space unchanged and keep the SVD square.
		padded := mat.NewDense(c, c, nil)
		padded.Slice(0, r, 0, c).(*mat.Dense).Copy(a)
		a = padded
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrDegenerate)
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[c-2] <= rankEps*values[0] {
		return nil, fmt.Errorf("%w: rank deficient system", ErrDegenerate)
	}

	var v mat.Dense
	svd.VTo(&v)
	return mat.Col(nil, c-1, &v), nil
}

// EstimateHomography fits the matrix mapping Src to Dst with a Hartley
// normalised Direct Linear Transform. At least four pairs are required and
// neither side may be collinear.
func EstimateHomography(pairs []PointPair, solver NullSpaceSolver) (Homography, error) {
	if len(pairs) < MinCorrespondences {
		return Homography{}, fmt.Errorf("%w: %d of required %d",
			ErrInsufficientCorrespondences, len(pairs), MinCorrespondences)
	}
	if solver == nil {
		solver = SVDSolver{}
	}

	src := make([]models.Point2D, len(pairs))
	dst := make([]models.Point2D, len(pairs))
	for i, p := range pairs {
		src[i], dst[i] = p.Src, p.Dst
	}
	if collinear(src) {
		return Homography{}, fmt.Errorf("%w: reference-plane points", ErrCollinear)
	}
	if collinear(dst) {
		return Homography{}, fmt.Errorf("%w: target points", ErrCollinear)
	}

	t1, _ := normalizer(src)
	t2, s2 := normalizer(dst)

	a := mat.NewDense(2*len(pairs), 9, nil)
	for i := range pairs {
		x, y := applyAffine(t1, src[i])
		u, v := applyAffine(t2, dst[i])
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	h, err := solver.SolveHomogeneousLeastSquares(a)
	if err != nil {
		return Homography{}, err
	}
	if len(h) != 9 {
		return Homography{}, fmt.Errorf("%w: solver returned %d values", ErrDegenerate, len(h))
	}

	var hn Homography
	copy(hn[:], h)
	t2inv := Homography{1 / s2, 0, -t2[2] / s2, 0, 1 / s2, -t2[5] / s2, 0, 0, 1}
	return normalizeScale(mul3(mul3(t2inv, hn), t1))
}

// ReprojectionErrors returns |H(src) - dst| per pair, +Inf where the point
// maps to infinity.
func (h Homography) ReprojectionErrors(pairs []PointPair) []float64 {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		q, err := h.Apply(p.Src)
		if err != nil {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = math.Hypot(q.X-p.Dst.X, q.Y-p.Dst.Y)
	}
	return out
}

// RMSError is the root-mean-square reprojection error over pairs.
func (h Homography) RMSError(pairs []PointPair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, e := range h.ReprojectionErrors(pairs) {
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(pairs)))
}

// normalizer returns the similarity moving the centroid to the origin with
// mean distance sqrt(2), and its scale.
func normalizer(pts []models.Point2D) (Homography, float64) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	var d float64
	for _, p := range pts {
		d += math.Hypot(p.X-cx, p.Y-cy)
	}
	d /= n
	s := math.Sqrt2 / d
	return Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}, s
}

func applyAffine(t Homography, p models.Point2D) (float64, float64) {
	return t[0]*p.X + t[1]*p.Y + t[2], t[3]*p.X + t[4]*p.Y + t[5]
}

func mul3(a, b Homography) Homography {
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += a[i*3+k] * b[k*3+j]
			}
			out[i*3+j] = s
		}
	}
	return out
}

// collinear reports whether all points lie on one line (or coincide), using
// the ratio of the eigenvalues of their scatter matrix.
func collinear(pts []models.Point2D) bool {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	var sxx, syy, sxy float64
	for _, p := range pts {
		dx, dy := p.X-cx, p.Y-cy
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	tr := sxx + syy
	if tr == 0 {
		return true
	}
	det := sxx*syy - sxy*sxy
	disc := math.Sqrt(math.Max(tr*tr/4-det, 0))
	lMax := tr/2 + disc
	lMin := tr/2 - disc
	return lMin <= 1e-12*lMax
}
