package spectral

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// blinkBatch builds a w x h batch where pixel (bx, by) oscillates at bin
// and everything else is constant.
func blinkBatch(t *testing.T, w, h, n int, rate float64, bx, by, bin int) *capture.Batch {
	t.Helper()
	frames := make([]models.Frame, n)
	for i := range frames {
		luma := make([]float64, w*h)
		for p := range luma {
			luma[p] = 0.2
		}
		luma[by*w+bx] = 0.5 + 0.4*math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(n))
		frames[i] = models.Frame{Width: w, Height: h, Luma: luma}
	}
	b, err := capture.NewBatch("test", frames, rate)
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	return b
}

func TestAnalyzerGrid(t *testing.T) {
	b := blinkBatch(t, 7, 5, 64, 32, 3, 2, 12)
	a := NewAnalyzer(WithWorkers(3), WithTileRows(2))

	grid, err := a.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if grid.Width != 7 || grid.Height != 5 || len(grid.Estimates) != 35 {
		t.Fatalf("unexpected grid shape %dx%d (%d)", grid.Width, grid.Height, len(grid.Estimates))
	}
	if grid.Resolution() != 0.5 {
		t.Errorf("resolution %.3f, want 0.5", grid.Resolution())
	}

	est := grid.At(3, 2)
	if est.DominantBin != 12 || est.DominantFrequencyHz != 6 {
		t.Errorf("blinking pixel: bin %d freq %.3f", est.DominantBin, est.DominantFrequencyHz)
	}
	if math.Abs(est.Magnitude-0.4) > 1e-9 {
		t.Errorf("blinking pixel magnitude %.6f", est.Magnitude)
	}
	if still := grid.At(0, 0); still.Magnitude > 1e-9 {
		t.Errorf("static pixel magnitude %.12f", still.Magnitude)
	}
}

func TestAnalyzerMatchesSingleWorker(t *testing.T) {
	b := blinkBatch(t, 9, 9, 32, 30, 4, 4, 7)
	one, err := NewAnalyzer(WithWorkers(1)).Analyze(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	many, err := NewAnalyzer(WithWorkers(8), WithTileRows(1)).Analyze(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	for i := range one.Estimates {
		if one.Estimates[i] != many.Estimates[i] {
			t.Fatalf("pixel %d differs: %+v vs %+v", i, one.Estimates[i], many.Estimates[i])
		}
	}
}

func TestAnalyzerWindowKeepsAmplitudeScale(t *testing.T) {
	b := blinkBatch(t, 1, 1, 256, 30, 0, 0, 40)
	grid, err := NewAnalyzer(WithWindow(Hamming)).Analyze(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	est := grid.At(0, 0)
	if est.DominantBin != 40 {
		t.Fatalf("bin %d, want 40", est.DominantBin)
	}
	if math.Abs(est.Magnitude-0.4) > 0.02 {
		t.Errorf("windowed magnitude %.4f, want about 0.4", est.Magnitude)
	}
}

func TestAnalyzerCancelled(t *testing.T) {
	b := blinkBatch(t, 4, 64, 16, 16, 0, 0, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAnalyzer(WithWorkers(2), WithTileRows(1)).Analyze(ctx, b)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAnalyzerValidate(t *testing.T) {
	a := NewAnalyzer()
	if err := a.Validate(500); !errors.Is(err, capture.ErrNotPowerOfTwo) {
		t.Errorf("expected ErrNotPowerOfTwo, got %v", err)
	}
	if err := a.Validate(8); !errors.Is(err, ErrTooFewBins) {
		t.Errorf("expected ErrTooFewBins, got %v", err)
	}
	if err := a.Validate(512); err != nil {
		t.Errorf("512 should be valid: %v", err)
	}
}
