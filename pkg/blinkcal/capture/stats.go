package capture

import (
	"math"
	"time"
)

const (
	// rateStabilityThreshold is the maximum instantaneous-rate stddev as a
	// fraction of the mean rate.
	rateStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the mean inter-frame interval.
	jitterStabilityThreshold = 0.20
)

// RateStats summarises the timing of a captured batch.
type RateStats struct {
	Frames       int
	Duration     time.Duration
	MeanHz       float64 // (n-1)/(t_last-t_first)
	MinHz        float64
	MaxHz        float64
	StdDevHz     float64
	JitterMean   time.Duration
	JitterMax    time.Duration
	Stable       bool
	FromTimeline bool // false when the nominal rate had to be assumed
}

// ComputeRateStats reconstructs the session sampling rate from per-frame
// timestamps. It returns ok=false when fewer than two distinct timestamps
// are available.
func ComputeRateStats(times []time.Time) (RateStats, bool) {
	n := len(times)
	stats := RateStats{Frames: n}
	if n < 2 || times[0].IsZero() || times[n-1].IsZero() {
		return stats, false
	}
	total := times[n-1].Sub(times[0])
	if total <= 0 {
		return stats, false
	}
	stats.Duration = total
	stats.FromTimeline = true
	stats.MeanHz = float64(n-1) / total.Seconds()

	inst := make([]float64, 0, n-1)
	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		dt := times[i].Sub(times[i-1]).Seconds()
		if dt <= 0 {
			continue
		}
		inst = append(inst, 1/dt)
		intervals = append(intervals, dt)
	}
	if len(inst) == 0 {
		return stats, true
	}

	stats.MinHz, stats.MaxHz = inst[0], inst[0]
	var sum float64
	for _, v := range inst {
		sum += v
		stats.MinHz = math.Min(stats.MinHz, v)
		stats.MaxHz = math.Max(stats.MaxHz, v)
	}
	mean := sum / float64(len(inst))
	var sq float64
	for _, v := range inst {
		sq += (v - mean) * (v - mean)
	}
	stats.StdDevHz = math.Sqrt(sq / float64(len(inst)))

	expected := 1 / stats.MeanHz
	var jitterSum, jitterMax float64
	for _, dt := range intervals {
		j := math.Abs(dt - expected)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(intervals))
	stats.JitterMean = time.Duration(jitterMean * float64(time.Second))
	stats.JitterMax = time.Duration(jitterMax * float64(time.Second))

	stats.Stable = stats.StdDevHz < rateStabilityThreshold*stats.MeanHz &&
		jitterMean < jitterStabilityThreshold*expected
	return stats, true
}
