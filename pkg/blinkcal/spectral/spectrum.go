package spectral

import (
	"math"
	"math/cmplx"

	"github.com/himanishpuri/BlinkCal/pkg/models"
	"github.com/mjibson/go-dsp/fft"
)

// DefaultExcludedBins is how many of the lowest bins (DC and slow ambient
// drift) can never be reported as dominant.
const DefaultExcludedBins = 4

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// FFTReal wraps the go-dsp FFT. Power-of-two lengths take the radix-2 path.
func FFTReal(series []float64) []complex128 {
	return fft.FFTReal(series)
}

// MagnitudeSpectrum returns the positive-frequency half of the spectrum,
// scaled by 2/N so that a sinusoid of amplitude A sitting exactly on a bin
// reports magnitude A.
func MagnitudeSpectrum(spectrum []complex128) []float64 {
	return scaledMagnitude(spectrum, 2/float64(len(spectrum)))
}

func scaledMagnitude(spectrum []complex128, scale float64) []float64 {
	half := len(spectrum) / 2
	mag := make([]float64, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i]) * scale
	}
	return mag
}

// Dominant scans bins [excluded, len(mag)) and returns the strongest one.
// Ties keep the lower bin. Bins below excluded are never considered, however
// strong. It returns -1 when the range is empty.
func Dominant(mag []float64, excluded int) (int, float64) {
	if excluded < 0 {
		excluded = 0
	}
	if excluded >= len(mag) {
		return -1, 0
	}
	best, bestMag := excluded, mag[excluded]
	for k := excluded + 1; k < len(mag); k++ {
		if mag[k] > bestMag {
			best, bestMag = k, mag[k]
		}
	}
	return best, bestMag
}

// BinFrequency converts a bin index to Hz for an n-point transform.
func BinFrequency(bin, n int, samplingRateHz float64) float64 {
	return float64(bin) / float64(n) * samplingRateHz
}

// Estimate runs the full single-pixel analysis on an unwindowed series.
func Estimate(series []float64, samplingRateHz float64, excluded int) models.SpectralEstimate {
	mag := MagnitudeSpectrum(FFTReal(series))
	bin, m := Dominant(mag, excluded)
	return models.SpectralEstimate{
		DominantBin:         bin,
		DominantFrequencyHz: BinFrequency(bin, len(series), samplingRateHz),
		Magnitude:           m,
	}
}
