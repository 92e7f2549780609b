package geometry

import (
	"fmt"
	"math"
	"math/rand"
)

// RANSACConfig controls robust homography fitting.
type RANSACConfig struct {
	Threshold  float64 // Maximum reprojection error (target units) for an inlier.
	Iterations int     // Upper bound on sampled hypotheses.
	Confidence float64 // Stop early once this probability of an outlier-free sample is reached.
	Seed       int64   // Sampler seed; equal seeds give equal results.
}

func DefaultRANSAC() RANSACConfig {
	return RANSACConfig{
		Threshold:  3.0,
		Iterations: 2000,
		Confidence: 0.995,
		Seed:       1,
	}
}

// RobustFit is the outcome of EstimateRobust.
type RobustFit struct {
	H           Homography
	Inliers     []bool
	InlierCount int
	RMSError    float64 // over inliers only
	Iterations  int
}

// EstimateRobust fits a homography while ignoring pairs that disagree with
// the consensus, which absorbs the extra pairs a many-to-many match yields.
// With exactly four pairs it is equivalent to EstimateHomography.
func EstimateRobust(pairs []PointPair, cfg RANSACConfig, solver NullSpaceSolver) (RobustFit, error) {
	n := len(pairs)
	if n < MinCorrespondences {
		return RobustFit{}, fmt.Errorf("%w: %d of required %d",
			ErrInsufficientCorrespondences, n, MinCorrespondences)
	}
	if cfg.Threshold <= 0 || cfg.Iterations <= 0 {
		d := DefaultRANSAC()
		if cfg.Threshold <= 0 {
			cfg.Threshold = d.Threshold
		}
		if cfg.Iterations <= 0 {
			cfg.Iterations = d.Iterations
		}
	}

	if n == MinCorrespondences {
		h, err := EstimateHomography(pairs, solver)
		if err != nil {
			return RobustFit{}, err
		}
		return scoreFit(h, pairs, cfg.Threshold, 1), nil
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sample := make([]PointPair, MinCorrespondences)
	idx := make([]int, MinCorrespondences)

	var best RobustFit
	found := false
	limit := cfg.Iterations
	it := 0
	var lastErr error
	for ; it < limit; it++ {
		pickDistinct(rng, n, idx)
		for i, j := range idx {
			sample[i] = pairs[j]
		}
		h, err := EstimateHomography(sample, solver)
		if err != nil {
			lastErr = err
			continue
		}
		fit := scoreFit(h, pairs, cfg.Threshold, it+1)
		if !found || better(fit, best) {
			best = fit
			found = true
			if best.InlierCount == n {
				it++
				break
			}
			limit = adaptiveLimit(cfg, best.InlierCount, n)
		}
	}
	if !found {
		if lastErr == nil {
			lastErr = ErrDegenerate
		}
		return RobustFit{}, fmt.Errorf("no usable sample in %d iterations: %w", it, lastErr)
	}

	// Refit on the consensus set.
	if best.InlierCount > MinCorrespondences {
		inl := make([]PointPair, 0, best.InlierCount)
		for i, ok := range best.Inliers {
			if ok {
				inl = append(inl, pairs[i])
			}
		}
		if h, err := EstimateHomography(inl, solver); err == nil {
			refit := scoreFit(h, pairs, cfg.Threshold, it)
			if refit.InlierCount >= best.InlierCount {
				best = refit
			}
		}
	}
	best.Iterations = it
	return best, nil
}

func scoreFit(h Homography, pairs []PointPair, threshold float64, iterations int) RobustFit {
	errs := h.ReprojectionErrors(pairs)
	fit := RobustFit{H: h, Inliers: make([]bool, len(pairs)), Iterations: iterations}
	var sum float64
	for i, e := range errs {
		if e <= threshold {
			fit.Inliers[i] = true
			fit.InlierCount++
			sum += e * e
		}
	}
	if fit.InlierCount > 0 {
		fit.RMSError = math.Sqrt(sum / float64(fit.InlierCount))
	}
	return fit
}

func better(a, b RobustFit) bool {
	if a.InlierCount != b.InlierCount {
		return a.InlierCount > b.InlierCount
	}
	return a.RMSError < b.RMSError
}

// adaptiveLimit shrinks the iteration budget as the inlier ratio improves.
func adaptiveLimit(cfg RANSACConfig, inliers, n int) int {
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 || inliers == 0 {
		return cfg.Iterations
	}
	w := float64(inliers) / float64(n)
	pGood := math.Pow(w, MinCorrespondences)
	if pGood >= 1 {
		return 1
	}
	if pGood <= 0 {
		return cfg.Iterations
	}
	k := math.Log(1-cfg.Confidence) / math.Log(1-pGood)
	if math.IsNaN(k) || k > float64(cfg.Iterations) {
		return cfg.Iterations
	}
	return int(math.Ceil(k))
}

// pickDistinct fills idx with distinct values from [0, n).
func pickDistinct(rng *rand.Rand, n int, idx []int) {
	for i := range idx {
		for {
			v := rng.Intn(n)
			if !containsInt(idx[:i], v) {
				idx[i] = v
				break
			}
		}
	}
}

func containsInt(s []int, v int) bool {
	for _, u := range s {
		if u == v {
			return true
		}
	}
	return false
}
