package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestObservationWeights(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		alpha float64
	}{
		{"equal weights", 100, 0},
		{"mild decay", 250, 0.01},
		{"strong decay", 60, 0.2},
		{"negative alpha favours old data", 40, -0.05},
		{"single observation", 1, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, effObs := ObservationWeights(tt.n, tt.alpha)
			require.Len(t, w, tt.n)

			sum := 0.0
			for _, v := range w {
				assert.GreaterOrEqual(t, v, 0.0)
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-12, "weights should sum to 1")
			assert.LessOrEqual(t, effObs, float64(tt.n)+1e-9, "effective obs cannot exceed n")

			if tt.alpha > 0 && tt.n > 1 {
				assert.Greater(t, w[tt.n-1], w[0], "recent observations should weigh more")
			}
		})
	}
}

func TestObservationWeights_EqualIsExact(t *testing.T) {
	w, effObs := ObservationWeights(100, 0)
	for _, v := range w {
		assert.Equal(t, 0.01, v)
	}
	assert.Equal(t, 100.0, effObs)
}

func TestObservationWeights_Empty(t *testing.T) {
	w, effObs := ObservationWeights(0, 0.1)
	assert.Nil(t, w)
	assert.Equal(t, 0.0, effObs)
}

func TestNormalizeWeights(t *testing.T) {
	w := []float64{1, 3}
	NormalizeWeights(w)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, w, 1e-12)

	zero := []float64{0, 0}
	NormalizeWeights(zero)
	assert.Equal(t, []float64{0, 0}, zero)

	inf := []float64{math.Inf(1), 1}
	NormalizeWeights(inf)
	assert.True(t, math.IsInf(inf[0], 1))
}

func TestEffectiveSampleSize(t *testing.T) {
	assert.InDelta(t, 4.0, EffectiveSampleSize([]float64{0.25, 0.25, 0.25, 0.25}), 1e-12)
	assert.InDelta(t, 1.0, EffectiveSampleSize([]float64{0, 0, 1}), 1e-12)
	assert.Equal(t, 0.0, EffectiveSampleSize(nil))
}

func TestWeightedMeanStd(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	mean, std := WeightedMeanStd(x, []float64{0.25, 0.25, 0.25, 0.25})
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), std, 1e-12)

	mean, std = WeightedMeanStd(x, []float64{0, 0, 0, 1})
	assert.InDelta(t, 4.0, mean, 1e-12)
	assert.InDelta(t, 0.0, std, 1e-12)
}

func TestTiedRank(t *testing.T) {
	values := []float64{10, 30, 20, 30}

	desc := TiedRank(values, true)
	assert.Equal(t, []float64{4, 1.5, 3, 1.5}, desc)

	asc := TiedRank(values, false)
	assert.Equal(t, []float64{1, 3.5, 2, 3.5}, asc)

	allTied := TiedRank([]float64{1, 1, 1}, true)
	assert.Equal(t, []float64{2, 2, 2}, allTied)

	// Values that differ only in the last bits are tied.
	third := 1.0 / 3
	nearly := TiedRank([]float64{third, 0.1 + 0.2 - 0.3 + third, 2}, true)
	assert.Equal(t, []float64{2.5, 2.5, 1}, nearly)
}

func TestQuantiles(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3}
	q := Quantiles(data, []float64{0, 0.5, 1})
	assert.Equal(t, []float64{1, 3, 5}, q)
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, data, "input must not be sorted in place")

	empty := Quantiles(nil, []float64{0.5})
	assert.True(t, math.IsNaN(empty[0]))
}

func TestCorrelationMatrixFromCovariance(t *testing.T) {
	cov := mat.NewSymDense(3, []float64{
		0.04, 0.03, 0.00,
		0.03, 0.09, 0.00,
		0.00, 0.00, 0.01,
	})

	corr, err := CorrelationMatrixFromCovariance(cov)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0, corr.At(i, i), 1e-12)
	}
	assert.InDelta(t, 0.5, corr.At(0, 1), 1e-12)
	assert.InDelta(t, 0.0, corr.At(0, 2), 1e-12)
}

func TestCorrelationMatrixFromCovariance_InvalidVariance(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0, 0, 0, 1})
	_, err := CorrelationMatrixFromCovariance(cov)
	assert.Error(t, err)
}

func TestDistanceRoundTrip(t *testing.T) {
	corr := mat.NewSymDense(3, []float64{
		1.0, 0.8, -0.3,
		0.8, 1.0, 0.1,
		-0.3, 0.1, 1.0,
	})

	dist := CorrelationToDistance(corr)
	back := DistanceToCorrelation(dist)
	sim := DistanceToSimilarity(dist)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 0.0, dist.At(i, i), "zero diagonal")
		for j := 0; j < 3; j++ {
			assert.GreaterOrEqual(t, dist.At(i, j), 0.0)
			assert.LessOrEqual(t, dist.At(i, j), 2.0)
			assert.InDelta(t, dist.At(i, j), dist.At(j, i), 1e-15)
			assert.InDelta(t, corr.At(i, j), back.At(i, j), 1e-12)
			assert.InDelta(t, 1.0+corr.At(i, j), sim.At(i, j), 1e-12)
		}
	}

	// Higher correlation should lead to lower distance
	assert.Less(t, dist.At(0, 1), dist.At(1, 2))

	recovered := SimilarityToDistance(sim)
	assert.True(t, mat.EqualApprox(dist, recovered, 1e-12))
}

func TestGenericSimilarity(t *testing.T) {
	dist := mat.NewSymDense(2, []float64{0, 3, 3, 0})
	sim := GenericSimilarity(dist)
	assert.InDelta(t, 1.0, sim.At(0, 0), 1e-12)
	assert.InDelta(t, 0.25, sim.At(0, 1), 1e-12)
}

func TestSymmetrize(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 4, 3})
	s := Symmetrize(m)
	assert.Equal(t, 3.0, s.At(0, 1))
	assert.Equal(t, 3.0, s.At(1, 0))
	assert.Equal(t, 1.0, s.At(0, 0))

	assert.Panics(t, func() { Symmetrize(mat.NewDense(2, 3, nil)) })
}

func TestWeightedLinearRegression(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{3, 5, 7, 9}

	alpha, beta := WeightedLinearRegression(x, y, nil)
	assert.InDelta(t, 1.0, alpha, 1e-12)
	assert.InDelta(t, 2.0, beta, 1e-12)

	alpha, beta = WeightedLinearRegression(x, y, []float64{0.1, 0.2, 0.3, 0.4})
	assert.InDelta(t, 1.0, alpha, 1e-12)
	assert.InDelta(t, 2.0, beta, 1e-12)

	alpha, beta = WeightedLinearRegression([]float64{2, 2, 2}, []float64{1, 2, 3}, nil)
	assert.InDelta(t, 2.0, alpha, 1e-12)
	assert.Equal(t, 0.0, beta)
}
