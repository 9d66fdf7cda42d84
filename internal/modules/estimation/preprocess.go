package estimation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/pkg/formulas"
)

// PreprocessOptions selects the return transformations. Both default to off.
type PreprocessOptions struct {
	Standardize      bool `json:"standardize" msgpack:"standardize"`
	RemoveMarketMode bool `json:"remove_market_mode" msgpack:"remove_market_mode"`
}

// MarketMode holds diagnostics of the removed first principal component.
// It is reported only; nothing downstream consumes it.
type MarketMode struct {
	Series            []float64 `json:"series"`
	Loadings          []float64 `json:"loadings"`
	SignCheck         float64   `json:"sign_check"`
	VarianceExplained float64   `json:"variance_explained"`
}

// Preprocessed is the output of Preprocess.
type Preprocessed struct {
	Returns    *mat.Dense
	MarketMode *MarketMode // nil when the market mode was not removed
}

// ResolveWeights validates observation weights against n observations.
// Empty weights default to equal weighting; the result always sums to 1.
func ResolveWeights(weights []float64, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: no observations", domain.ErrDegenerateInput)
	}
	if len(weights) == 0 {
		w, _ := formulas.ObservationWeights(n, 0)
		return w, nil
	}
	if len(weights) != n {
		return nil, fmt.Errorf("%w: %d weights for %d observations", domain.ErrDimensionMismatch, len(weights), n)
	}
	out := make([]float64, n)
	sum := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: invalid weight %v at %d", domain.ErrInvalidConfiguration, w, i)
		}
		out[i] = w
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", domain.ErrInvalidConfiguration)
	}
	formulas.NormalizeWeights(out)
	return out, nil
}

// Preprocess standardizes returns and optionally strips the market mode.
//
//  1. Standardize: subtract weighted mean, divide by weighted std, per asset.
//  2. Market mode: first weighted principal component, sign-canonicalized so most assets
//     load positively; every asset is regressed (WLS) on [1, marketMode] and replaced by
//     its residual.
//  3. Standardize again using the residuals' own weighted moments.
//
// The input matrix is never modified.
func Preprocess(returns mat.Matrix, weights []float64, opts PreprocessOptions) (*Preprocessed, error) {
	n, p := returns.Dims()
	if p == 0 {
		return nil, fmt.Errorf("%w: no assets", domain.ErrDegenerateInput)
	}
	w, err := ResolveWeights(weights, n)
	if err != nil {
		return nil, err
	}

	x := mat.DenseCopyOf(returns)
	if opts.Standardize {
		standardizeColumns(x, w)
	}

	var mm *MarketMode
	if opts.RemoveMarketMode {
		mm, err = extractMarketMode(x, w)
		if err != nil {
			return nil, err
		}
		col := make([]float64, n)
		for j := 0; j < p; j++ {
			mat.Col(col, j, x)
			alpha, beta := formulas.WeightedLinearRegression(mm.Series, col, w)
			for i := 0; i < n; i++ {
				x.Set(i, j, col[i]-alpha-beta*mm.Series[i])
			}
		}
		if opts.Standardize {
			standardizeColumns(x, w)
		}
	}

	return &Preprocessed{Returns: x, MarketMode: mm}, nil
}

// standardizeColumns z-scores every column in place with weighted moments.
// Constant columns are centred but not scaled.
func standardizeColumns(x *mat.Dense, w []float64) {
	n, p := x.Dims()
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		mean, std := formulas.WeightedMeanStd(col, w)
		for i := 0; i < n; i++ {
			v := col[i] - mean
			if std > 0 {
				v /= std
			}
			x.Set(i, j, v)
		}
	}
}

// extractMarketMode runs a weighted PCA on x and returns the first component scores.
func extractMarketMode(x *mat.Dense, w []float64) (*MarketMode, error) {
	n, p := x.Dims()

	cov, _, err := WeightedCovariance(x, w)
	if err != nil {
		return nil, fmt.Errorf("market mode covariance: %w", err)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, fmt.Errorf("%w: market mode eigendecomposition failed", domain.ErrDegenerateInput)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// eigenvalues come back in ascending order
	top := len(values) - 1
	loadings := make([]float64, p)
	mat.Col(loadings, top, &vecs)

	total := 0.0
	for _, v := range values {
		total += math.Max(v, 0)
	}
	explained := 0.0
	if total > 0 {
		explained = math.Max(values[top], 0) / total
	}

	positive := 0
	for _, l := range loadings {
		if l > 0 {
			positive++
		}
	}
	signCheck := float64(positive) / float64(p)

	means := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		means[j], _ = formulas.WeightedMeanStd(col, w)
	}

	series := make([]float64, n)
	for i := 0; i < n; i++ {
		s := 0.0
		for j := 0; j < p; j++ {
			s += (x.At(i, j) - means[j]) * loadings[j]
		}
		series[i] = s
	}

	if signCheck < 0.5 {
		for i := range series {
			series[i] = -series[i]
		}
		for j := range loadings {
			loadings[j] = -loadings[j]
		}
	}

	return &MarketMode{
		Series:            series,
		Loadings:          loadings,
		SignCheck:         signCheck,
		VarianceExplained: explained,
	}, nil
}
