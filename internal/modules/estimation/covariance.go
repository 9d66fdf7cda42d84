package estimation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/pkg/formulas"
)

// WeightedCovariance computes Σ = Xᵀ W X for weighted-demeaned returns X
// (rows oldest -> newest, columns are assets) and the effective sample size 1/Σw².
// Weights are normalized to sum to 1; no degrees-of-freedom correction is applied
// because the mean is already weighted out.
func WeightedCovariance(returns mat.Matrix, weights []float64) (*mat.SymDense, float64, error) {
	n, p := returns.Dims()
	if p == 0 {
		return nil, 0, fmt.Errorf("%w: no assets", domain.ErrDegenerateInput)
	}
	w, err := ResolveWeights(weights, n)
	if err != nil {
		return nil, 0, err
	}

	x := mat.DenseCopyOf(returns)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		mean, _ := formulas.WeightedMeanStd(col, w)
		for i := 0; i < n; i++ {
			x.Set(i, j, col[i]-mean)
		}
	}

	wx := mat.NewDense(n, p, nil)
	wx.Apply(func(i, j int, v float64) float64 { return w[i] * v }, x)

	var cov mat.Dense
	cov.Mul(x.T(), wx)

	return formulas.Symmetrize(&cov), formulas.EffectiveSampleSize(w), nil
}
