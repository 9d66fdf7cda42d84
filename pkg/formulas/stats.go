package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WeightedMeanStd returns the weighted mean and the biased (population) weighted standard
// deviation of x. Weights are expected to sum to 1; nil weights mean equal weighting.
func WeightedMeanStd(x, weights []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(x, weights)
}

// rankTolerance is the relative gap below which two values rank as tied, so that
// results differing only by summation order get the same rank.
const rankTolerance = 1e-9

// TiedRank ranks values with ties receiving the average of the ranks they span.
// With descending set, the largest value gets rank 1.
func TiedRank(values []float64, descending bool) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if descending {
			return values[idx[a]] > values[idx[b]]
		}
		return values[idx[a]] < values[idx[b]]
	})

	ranks := make([]float64, n)
	for start := 0; start < n; {
		end := start + 1
		for end < n && nearlyEqual(values[idx[end]], values[idx[start]]) {
			end++
		}
		// positions start..end-1 hold ranks start+1..end
		avg := float64(start+1+end) / 2.0
		for k := start; k < end; k++ {
			ranks[idx[k]] = avg
		}
		start = end
	}
	return ranks
}

func nearlyEqual(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= rankTolerance*scale
}

// Quantiles returns the empirical quantiles of data at the given probabilities.
// data is copied and sorted; the input slice is not modified.
func Quantiles(data []float64, probs []float64) []float64 {
	out := make([]float64, len(probs))
	if len(data) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	for i, p := range probs {
		out[i] = stat.Quantile(p, stat.Empirical, sorted, nil)
	}
	return out
}

// WeightedLinearRegression fits y = alpha + beta·x by weighted least squares.
// Weights sum to 1; nil means equal weighting. A constant x yields beta = 0.
func WeightedLinearRegression(x, y, weights []float64) (alpha, beta float64) {
	mx, sx := WeightedMeanStd(x, weights)
	my, _ := WeightedMeanStd(y, weights)
	if sx == 0 {
		return my, 0
	}
	cov := 0.0
	for i := range x {
		w := 1 / float64(len(x))
		if weights != nil {
			w = weights[i]
		}
		cov += w * (x[i] - mx) * (y[i] - my)
	}
	beta = cov / (sx * sx)
	return my - beta*mx, beta
}
