package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Symmetrize returns 0.5 * (m + mᵀ) for a square matrix m.
// Every derived covariance, correlation, distance and similarity matrix goes through here.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic(fmt.Sprintf("formulas: symmetrize non-square %dx%d matrix", r, c))
	}
	out := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		out.SetSym(i, i, m.At(i, i))
		for j := i + 1; j < r; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

// CorrelationMatrixFromCovariance calculates the correlation matrix from a covariance matrix.
//
// Formula: corr(i,j) = cov(i,j) / sqrt(cov(i,i) * cov(j,j))
func CorrelationMatrixFromCovariance(cov mat.Symmetric) (*mat.SymDense, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}

	vars := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid variance on diagonal at %d: %v", i, v)
		}
		vars[i] = v
	}

	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1.0)
		for j := i + 1; j < n; j++ {
			val := cov.At(i, j) / math.Sqrt(vars[i]*vars[j])
			// Clamp to valid range.
			val = math.Max(-1.0, math.Min(1.0, val))
			corr.SetSym(i, j, val)
		}
	}

	return corr, nil
}

// CorrelationToDistance converts a correlation matrix to the Mantegna distance matrix.
// Distance formula: d_ij = sqrt(2 * (1 - ρ_ij)), a metric with range [0, 2] and zero diagonal.
func CorrelationToDistance(corr mat.Symmetric) *mat.SymDense {
	n := corr.SymmetricDim()
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			rho := math.Max(-1.0, math.Min(1.0, corr.At(i, j)))
			dist.SetSym(i, j, math.Sqrt(2.0*(1.0-rho)))
		}
	}
	return dist
}

// DistanceToSimilarity maps a Mantegna distance to the similarity S = 2 - 0.5*D².
// For correlation-based distances this is 1 + ρ, a non-negative edge weight.
func DistanceToSimilarity(dist mat.Symmetric) *mat.SymDense {
	return mapSym(dist, func(d float64) float64 { return 2.0 - 0.5*d*d })
}

// DistanceToCorrelation inverts CorrelationToDistance: ρ = 1 - 0.5*D².
func DistanceToCorrelation(dist mat.Symmetric) *mat.SymDense {
	return mapSym(dist, func(d float64) float64 { return 1.0 - 0.5*d*d })
}

// SimilarityToDistance inverts DistanceToSimilarity: D = sqrt(4 - 2S), clamped at 0.
func SimilarityToDistance(sim mat.Symmetric) *mat.SymDense {
	out := mapSym(sim, func(s float64) float64 { return math.Sqrt(math.Max(0, 4.0-2.0*s)) })
	n := out.SymmetricDim()
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 0)
	}
	return out
}

// GenericSimilarity is the similarity used for non-correlation distances: S = 1 / (1 + D).
func GenericSimilarity(dist mat.Symmetric) *mat.SymDense {
	return mapSym(dist, func(d float64) float64 { return 1.0 / (1.0 + d) })
}

func mapSym(m mat.Symmetric, f func(float64) float64) *mat.SymDense {
	n := m.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, f(m.At(i, j)))
		}
	}
	return out
}
