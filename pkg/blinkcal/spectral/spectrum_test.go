package spectral

import (
	"math"
	"testing"
)

func sine(n int, bin int, amplitude, phase float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = amplitude * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(n)+phase)
	}
	return s
}

func TestHamming(t *testing.T) {
	for _, size := range []int{16, 128, 512, 1024} {
		window := Hamming(size)
		if len(window) != size {
			t.Errorf("Expected window size %d, got %d", size, len(window))
		}
		for i, val := range window {
			if val < 0 || val > 1 {
				t.Errorf("Window value %d out of range [0,1]: %f", i, val)
			}
		}
		if window[0] >= window[size/2] {
			t.Error("Hamming window should be lower at edges")
		}
	}
}

func TestMagnitudeSpectrum(t *testing.T) {
	spectrum := []complex128{
		complex(4.0, 0.0),
		complex(0.0, 2.0),
		complex(3.0, 4.0),
		complex(0.0, 0.0),
	}

	mag := MagnitudeSpectrum(spectrum)
	if len(mag) != 2 {
		t.Fatalf("Expected magnitude length 2, got %d", len(mag))
	}
	// scale is 2/N = 0.5
	if mag[0] != 2.0 || mag[1] != 1.0 {
		t.Errorf("unexpected magnitudes %v", mag)
	}
}

func TestEstimateRecoversFrequency(t *testing.T) {
	const amplitude = 0.4
	series := sine(16, 5, amplitude, 0)
	for i := range series {
		series[i] += 0.5 // ambient brightness
	}

	est := Estimate(series, 16, DefaultExcludedBins)
	if est.DominantBin != 5 {
		t.Fatalf("dominant bin %d, want 5", est.DominantBin)
	}
	if est.DominantFrequencyHz != 5.0 {
		t.Errorf("frequency %.6f, want 5.0", est.DominantFrequencyHz)
	}
	if math.Abs(est.Magnitude-amplitude) > 1e-9 {
		t.Errorf("magnitude %.9f, want %.1f", est.Magnitude, amplitude)
	}
}

func TestEstimateIgnoresLowBins(t *testing.T) {
	for _, low := range []int{1, 2, 3} {
		strong := sine(64, low, 0.9, 0.3)
		weak := sine(64, 9, 0.05, 0)
		series := make([]float64, 64)
		for i := range series {
			series[i] = 0.5 + strong[i] + weak[i]
		}

		est := Estimate(series, 64, DefaultExcludedBins)
		if est.DominantBin < DefaultExcludedBins {
			t.Errorf("bin %d reported dominant despite exclusion", est.DominantBin)
		}
		if est.DominantBin != 9 {
			t.Errorf("low bin %d: dominant %d, want 9", low, est.DominantBin)
		}
	}
}

func TestEstimateFlatSeriesStillReports(t *testing.T) {
	series := make([]float64, 32)
	for i := range series {
		series[i] = 0.7
	}
	est := Estimate(series, 30, DefaultExcludedBins)
	if est.DominantBin != DefaultExcludedBins {
		t.Errorf("flat series: bin %d, want first eligible bin", est.DominantBin)
	}
	if est.Magnitude > 1e-9 {
		t.Errorf("flat series magnitude %.12f, want ~0", est.Magnitude)
	}
}

func TestDominantEmptyRange(t *testing.T) {
	if bin, _ := Dominant([]float64{1, 2, 3}, 4); bin != -1 {
		t.Errorf("expected -1 for empty range, got %d", bin)
	}
}

func TestBinFrequency(t *testing.T) {
	tests := []struct {
		bin, n int
		rate   float64
		want   float64
	}{
		{5, 16, 16, 5},
		{10, 512, 30, 0.5859375},
		{256, 1024, 60, 15},
	}
	for _, tt := range tests {
		if got := BinFrequency(tt.bin, tt.n, tt.rate); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("BinFrequency(%d, %d, %.0f) = %f, want %f", tt.bin, tt.n, tt.rate, got, tt.want)
		}
	}
}

func TestLuminance(t *testing.T) {
	if got := Luminance(255, 255, 255); math.Abs(got-1) > 1e-12 {
		t.Errorf("white luma %f", got)
	}
	if got := Luminance(0, 0, 0); got != 0 {
		t.Errorf("black luma %f", got)
	}
	if got := Luminance(255, 0, 0); math.Abs(got-0.299) > 1e-12 {
		t.Errorf("red luma %f", got)
	}
}
