package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

func testGrid() *spectral.Grid {
	g := spectral.NewGrid(6, 4, 64, 32)
	for i := range g.Estimates {
		g.Estimates[i] = models.SpectralEstimate{DominantBin: 4, DominantFrequencyHz: 2, Magnitude: 0.01}
	}
	// bin 10 blob around (1.5, 1)
	for _, p := range [][2]int{{1, 0}, {2, 0}, {1, 2}, {2, 2}} {
		g.Set(p[0], p[1], models.SpectralEstimate{DominantBin: 10, DominantFrequencyHz: 5, Magnitude: 0.3})
	}
	// bin 20 single pixel at (5, 3)
	g.Set(5, 3, models.SpectralEstimate{DominantBin: 20, DominantFrequencyHz: 10, Magnitude: 0.5})
	// same bin but under threshold
	g.Set(0, 3, models.SpectralEstimate{DominantBin: 20, DominantFrequencyHz: 10, Magnitude: 0.09})
	return g
}

func TestExtractCentroids(t *testing.T) {
	got := Extract(testGrid(), DefaultThreshold)
	want := []models.FrequencyPoint{
		{X: 1.5, Y: 1, FrequencyHz: 5, Amplitude: 0.3, Bin: 10, PixelCount: 4},
		{X: 5, Y: 3, FrequencyHz: 10, Amplitude: 0.5, Bin: 20, PixelCount: 1},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Extract mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractIsPure(t *testing.T) {
	g := testGrid()
	first := Extract(g, DefaultThreshold)
	second := Extract(g, DefaultThreshold)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated extraction differs:\n%s", diff)
	}
}

func TestExtractNothingAboveThreshold(t *testing.T) {
	g := testGrid()
	points := Extract(g, 0.9)
	if len(points) != 0 {
		t.Errorf("expected no points, got %d", len(points))
	}
	if points := Extract(nil, DefaultThreshold); points != nil {
		t.Errorf("nil grid should give nil, got %v", points)
	}
}

func TestStrongest(t *testing.T) {
	points := Extract(testGrid(), DefaultThreshold)
	top := Strongest(points, 1)
	if len(top) != 1 || top[0].Bin != 20 {
		t.Errorf("unexpected strongest %+v", top)
	}
	if points[0].Bin != 10 {
		t.Error("Strongest must not reorder its input")
	}
}
