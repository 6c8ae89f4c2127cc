// Package scoring turns a prospect's normalized feature vector into a
// bounded 0-100 automation-need score under a versioned weight vector.
package scoring

import "math"

// Strategy computes a score in [0,100] from features in [0,1] and weights.
type Strategy interface {
	Name() string
	Compute(features, weights map[string]float64) float64
}

// LinearStrategy is the weighted mean of features, scaled to 0-100.
type LinearStrategy struct{}

// Name implements Strategy.
func (LinearStrategy) Name() string { return "linear" }

// Compute returns 100 × Σ w·x / Σ w over positively weighted features.
// Features are clamped to [0,1] and the result to [0,100].
func (LinearStrategy) Compute(features, weights map[string]float64) float64 {
	var num, den float64
	for name, w := range weights {
		if w <= 0 || math.IsNaN(w) {
			continue
		}
		num += w * clamp(features[name], 0, 1)
		den += w
	}
	if den == 0 {
		return 0
	}
	return clamp(100*num/den, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
