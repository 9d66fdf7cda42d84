package formulas

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ObservationWeights returns normalized observation weights (oldest -> newest) and the
// effective number of observations.
//
// Formula (alpha != 0): w_i ∝ exp(alpha * (i - n)), i = 1..n
// The most recent observation gets weight 1 before normalization, so alpha > 0 favours
// recent data. alpha == 0 gives equal weights 1/n and an effective sample size of exactly n.
func ObservationWeights(n int, alpha float64) ([]float64, float64) {
	if n <= 0 {
		return nil, 0
	}

	weights := make([]float64, n)
	if alpha == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights, float64(n)
	}

	for i := range weights {
		weights[i] = math.Exp(alpha * float64(i+1-n))
	}
	NormalizeWeights(weights)

	return weights, EffectiveSampleSize(weights)
}

// NormalizeWeights rescales weights in place so they sum to 1.
// A zero or non-finite sum leaves the slice untouched.
func NormalizeWeights(weights []float64) {
	sum := floats.Sum(weights)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return
	}
	floats.Scale(1.0/sum, weights)
}

// EffectiveSampleSize is the design-effect formula 1 / Σw² for weights summing to 1.
func EffectiveSampleSize(weights []float64) float64 {
	sumSq := floats.Dot(weights, weights)
	if sumSq <= 0 {
		return 0.0
	}
	return 1.0 / sumSq
}
