package extract

import (
	"sort"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// DefaultThreshold is the minimum normalised magnitude for a pixel to count
// as carrying a marker frequency.
const DefaultThreshold = 0.10

type group struct {
	sumX, sumY, sumAmp float64
	count              int
	freq               float64
}

// Extract filters the grid by threshold and collapses the surviving pixels
// into one FrequencyPoint per dominant bin. Pixels are grouped on exact bin
// equality, not on a frequency band. The result is ordered by ascending bin
// and is empty when nothing passes the threshold.
func Extract(grid *spectral.Grid, threshold float64) []models.FrequencyPoint {
	if grid == nil || len(grid.Estimates) == 0 {
		return nil
	}

	groups := make(map[int]*group)
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			e := grid.Estimates[y*grid.Width+x]
			if e.DominantBin < 0 || e.Magnitude < threshold {
				continue
			}
			g, ok := groups[e.DominantBin]
			if !ok {
				g = &group{freq: e.DominantFrequencyHz}
				groups[e.DominantBin] = g
			}
			g.sumX += float64(x)
			g.sumY += float64(y)
			g.sumAmp += e.Magnitude
			g.count++
		}
	}

	points := make([]models.FrequencyPoint, 0, len(groups))
	for bin, g := range groups {
		n := float64(g.count)
		points = append(points, models.FrequencyPoint{
			X:           g.sumX / n,
			Y:           g.sumY / n,
			FrequencyHz: g.freq,
			Amplitude:   g.sumAmp / n,
			Bin:         bin,
			PixelCount:  g.count,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Bin < points[j].Bin })
	return points
}

// Strongest returns the k points with the highest amplitude, keeping the
// input unchanged.
func Strongest(points []models.FrequencyPoint, k int) []models.FrequencyPoint {
	out := append([]models.FrequencyPoint(nil), points...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amplitude > out[j].Amplitude })
	if k >= 0 && k < len(out) {
		out = out[:k]
	}
	return out
}
