package estimation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/pkg/formulas"
)

// qisEigenFloor is the relative floor applied to non-positive eigenvalues inside the
// non-null range, keeping their inverses finite.
const qisEigenFloor = 1e-14

// ShrinkQIS applies Quadratic-Inverse Shrinkage to a sample covariance matrix.
// The result has the same eigenvectors and the same trace as the input.
//
// Reference: Ledoit, O., & Wolf, M. (2022). "Quadratic shrinkage for large covariance matrices"
//
//	N = effectiveObs - 1            (one degree of freedom used by demeaning)
//	c = p / N
//	h = min(c², 1/c²)^0.35 / p^0.35
//
// The min(p, N) largest eigenvalues feed the smoothed Stein shrinker; when p > N the
// remaining null eigenvalues share the target 1 / ((c-1) * mean(1/λ)).
func ShrinkQIS(sample *mat.SymDense, effectiveObs float64) (*mat.SymDense, error) {
	p := sample.SymmetricDim()
	if p == 0 {
		return nil, fmt.Errorf("%w: empty covariance matrix", domain.ErrDegenerateInput)
	}
	nEff := effectiveObs - 1
	if nEff < 1 || math.IsNaN(nEff) || math.IsInf(nEff, 0) {
		return nil, fmt.Errorf("%w: effective sample size %v too small for shrinkage", domain.ErrDegenerateInput, effectiveObs)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sample, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition failed", domain.ErrDegenerateInput)
	}
	rawValues := eig.Values(nil)
	var rawVectors mat.Dense
	eig.VectorsTo(&rawVectors)

	// Sort ascending with a stable permutation so tied eigenvalues keep their order.
	perm := make([]int, p)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool { return rawValues[perm[a]] < rawValues[perm[b]] })

	lambda := make([]float64, p)
	vectors := mat.NewDense(p, p, nil)
	col := make([]float64, p)
	for k, src := range perm {
		lambda[k] = math.Max(rawValues[src], 0)
		mat.Col(col, src, &rawVectors)
		vectors.SetCol(k, col)
	}

	c := float64(p) / nEff
	h := math.Pow(math.Min(c*c, 1/(c*c)), 0.35) / math.Pow(float64(p), 0.35)

	m := p
	if nEff < float64(p) {
		m = int(math.Floor(nEff))
	}
	floor := qisEigenFloor * lambda[p-1]
	if floor <= 0 {
		return nil, fmt.Errorf("%w: covariance matrix has no positive eigenvalue", domain.ErrDegenerateInput)
	}
	inv := make([]float64, m)
	for k := 0; k < m; k++ {
		v := lambda[p-m+k]
		if v < floor {
			v = floor
		}
		inv[k] = 1 / v
	}

	theta := make([]float64, m)
	htheta := make([]float64, m)
	for j := 0; j < m; j++ {
		var sumT, sumH float64
		for i := 0; i < m; i++ {
			li := inv[i]
			diff := li - inv[j]
			den := diff*diff + h*h*li*li
			sumT += li * diff / den
			sumH += li * (h * li) / den
		}
		theta[j] = sumT / float64(m)
		htheta[j] = sumH / float64(m)
	}

	delta := make([]float64, p)
	if float64(p) <= nEff {
		for j := 0; j < m; j++ {
			a2 := theta[j]*theta[j] + htheta[j]*htheta[j]
			delta[j] = 1 / ((1-c)*(1-c)*inv[j] + 2*c*(1-c)*inv[j]*theta[j] + c*c*inv[j]*a2)
		}
	} else {
		delta0 := 1 / ((c - 1) * floats.Sum(inv) / float64(m))
		for k := 0; k < p-m; k++ {
			delta[k] = delta0
		}
		for j := 0; j < m; j++ {
			a2 := theta[j]*theta[j] + htheta[j]*htheta[j]
			delta[p-m+j] = 1 / (inv[j] * a2)
		}
	}

	// Preserve the trace.
	sumDelta := floats.Sum(delta)
	if sumDelta <= 0 || math.IsNaN(sumDelta) || math.IsInf(sumDelta, 0) {
		return nil, fmt.Errorf("%w: invalid shrunk eigenvalue sum %v", domain.ErrDegenerateInput, sumDelta)
	}
	floats.Scale(floats.Sum(lambda)/sumDelta, delta)

	var scaled, shrunk mat.Dense
	scaled.Apply(func(_, j int, v float64) float64 { return v * delta[j] }, vectors)
	shrunk.Mul(&scaled, vectors.T())

	return formulas.Symmetrize(&shrunk), nil
}

// Eigenvalues returns the ascending eigenvalues of a symmetric matrix.
func Eigenvalues(m *mat.SymDense) []float64 {
	var eig mat.EigenSym
	if ok := eig.Factorize(m, false); !ok {
		return nil
	}
	values := eig.Values(nil)
	sort.Float64s(values)
	return values
}
