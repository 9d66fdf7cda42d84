package estimation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/pkg/formulas"
)

// DistanceMethod names how asset-to-asset distances are derived.
type DistanceMethod string

const (
	// DistanceCorrelation is the Mantegna metric sqrt(2(1-ρ)) with similarity 2 - 0.5·D².
	DistanceCorrelation DistanceMethod = "correlation"
	// DistanceEuclidean and the other generic methods compare the weighted z-scores of
	// the processed return series; their similarity is 1 / (1 + D).
	DistanceEuclidean DistanceMethod = "euclidean"
	DistanceCityBlock DistanceMethod = "cityblock"
	DistanceChebyshev DistanceMethod = "chebyshev"
)

// Validate reports whether the method is supported.
func (m DistanceMethod) Validate() error {
	switch m {
	case DistanceCorrelation, DistanceEuclidean, DistanceCityBlock, DistanceChebyshev:
		return nil
	default:
		return fmt.Errorf("%w: unsupported distance method %q", domain.ErrInvalidConfiguration, m)
	}
}

// Distances returns the paired distance and similarity matrices.
// corr is used by the correlation method; processed (observations × assets) by the generic
// ones, which standardize every column with weights first so distances do not depend on an
// asset's return scale. Nil weights mean equal weighting.
func Distances(method DistanceMethod, corr mat.Symmetric, processed mat.Matrix, weights []float64) (*mat.SymDense, *mat.SymDense, error) {
	if err := method.Validate(); err != nil {
		return nil, nil, err
	}

	if method == DistanceCorrelation {
		if corr == nil {
			return nil, nil, fmt.Errorf("%w: correlation distance needs a correlation matrix", domain.ErrInvalidConfiguration)
		}
		dist := formulas.CorrelationToDistance(corr)
		return dist, formulas.DistanceToSimilarity(dist), nil
	}

	if processed == nil {
		return nil, nil, fmt.Errorf("%w: %s distance needs the processed returns", domain.ErrInvalidConfiguration, method)
	}
	n, p := processed.Dims()
	w, err := ResolveWeights(weights, n)
	if err != nil {
		return nil, nil, err
	}
	z := mat.DenseCopyOf(processed)
	standardizeColumns(z, w)

	a := make([]float64, n)
	b := make([]float64, n)
	dist := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		mat.Col(a, i, z)
		for j := i + 1; j < p; j++ {
			mat.Col(b, j, z)
			d := pairDistance(method, a, b)
			dist.Set(i, j, d)
			dist.Set(j, i, d)
		}
	}
	sym := formulas.Symmetrize(dist)
	return sym, formulas.GenericSimilarity(sym), nil
}

// pairDistance is the Minkowski distance of the matching order.
func pairDistance(method DistanceMethod, a, b []float64) float64 {
	switch method {
	case DistanceCityBlock:
		return floats.Distance(a, b, 1)
	case DistanceChebyshev:
		return floats.Distance(a, b, math.Inf(1))
	default:
		return floats.Distance(a, b, 2)
	}
}
