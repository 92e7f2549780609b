package match

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// DefaultTolerance is the maximum |marker - detected| frequency difference
// accepted as a correspondence, in Hz.
const DefaultTolerance = 0.05

var (
	ErrNyquist      = errors.New("marker frequency at or above the Nyquist limit")
	ErrSamplingRate = errors.New("sampling rate must be positive")
)

// Match pairs every marker with every point whose frequency lies strictly
// within tolerance. It is a full bipartite scan: a marker may match several
// points and a point several markers. Duplicates are kept on purpose and
// left to the robust homography fit downstream.
func Match(markers []models.EmitterMarker, points []models.FrequencyPoint, tolerance float64) []models.CorrespondenceMatch {
	var out []models.CorrespondenceMatch
	for _, m := range markers {
		for _, p := range points {
			d := math.Abs(m.FrequencyHz - p.FrequencyHz)
			if d < tolerance {
				out = append(out, models.CorrespondenceMatch{
					Marker:         m,
					Point:          p,
					FrequencyDelta: d,
				})
			}
		}
	}
	return out
}

// CheckNyquist fails when any marker cannot be recovered at the given rate.
func CheckNyquist(markers []models.EmitterMarker, samplingRateHz float64) error {
	if samplingRateHz <= 0 {
		return fmt.Errorf("%w: %.3f", ErrSamplingRate, samplingRateHz)
	}
	limit := samplingRateHz / 2
	for _, m := range markers {
		if m.FrequencyHz >= limit {
			return fmt.Errorf("%w: marker %d at %.3f Hz, limit %.3f Hz (sampling %.3f Hz)",
				ErrNyquist, m.ID, m.FrequencyHz, limit, samplingRateHz)
		}
	}
	return nil
}

// CountByMarker returns how many matches each marker ID received. Markers
// without a match are present with a zero count.
func CountByMarker(markers []models.EmitterMarker, matches []models.CorrespondenceMatch) map[int]int {
	counts := make(map[int]int, len(markers))
	for _, m := range markers {
		counts[m.ID] = 0
	}
	for _, c := range matches {
		counts[c.Marker.ID]++
	}
	return counts
}

// Unmatched lists the markers that received no match, in catalogue order.
func Unmatched(markers []models.EmitterMarker, matches []models.CorrespondenceMatch) []models.EmitterMarker {
	seen := make(map[int]bool, len(matches))
	for _, c := range matches {
		seen[c.Marker.ID] = true
	}
	var out []models.EmitterMarker
	for _, m := range markers {
		if !seen[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// SortByDelta orders matches by ascending frequency delta, then marker ID.
func SortByDelta(matches []models.CorrespondenceMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].FrequencyDelta == matches[j].FrequencyDelta {
			return matches[i].Marker.ID < matches[j].Marker.ID
		}
		return matches[i].FrequencyDelta < matches[j].FrequencyDelta
	})
}

// MinSeparation returns the smallest frequency gap between two markers, or
// +Inf for fewer than two markers. Catalogues whose separation is below the
// bin resolution cannot be told apart.
func MinSeparation(markers []models.EmitterMarker) float64 {
	freqs := make([]float64, len(markers))
	for i, m := range markers {
		freqs[i] = m.FrequencyHz
	}
	sort.Float64s(freqs)
	best := math.Inf(1)
	for i := 1; i < len(freqs); i++ {
		best = math.Min(best, freqs[i]-freqs[i-1])
	}
	return best
}
