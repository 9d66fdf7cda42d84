// Package estimation turns a return matrix into weighted, optionally shrunk, correlation,
// distance and similarity matrices.
package estimation

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/provenance"
	"github.com/aristath/marketgraph/pkg/formulas"
)

// Shrinkage selects the covariance estimator.
type Shrinkage string

const (
	ShrinkageNone Shrinkage = "none"
	ShrinkageQIS  Shrinkage = "qis"
)

// summaryProbs are the quantiles reported for the off-diagonal correlations.
var summaryProbs = []float64{0.05, 0.25, 0.5, 0.75, 0.95}

// Options configures one estimation pass.
type Options struct {
	// Alpha is the exponential decay of observation weights; 0 means equal weights.
	Alpha float64 `json:"alpha" msgpack:"alpha"`
	// Weights overrides Alpha when non-empty; must have one entry per observation.
	Weights    []float64         `json:"weights,omitempty" msgpack:"weights"`
	Preprocess PreprocessOptions `json:"preprocess" msgpack:"preprocess"`
	Shrinkage  Shrinkage         `json:"shrinkage" msgpack:"shrinkage"`
	Distance   DistanceMethod    `json:"distance" msgpack:"distance"`
}

// DefaultOptions returns equal weights, no preprocessing, sample covariance and the
// correlation distance.
func DefaultOptions() Options {
	return Options{
		Shrinkage: ShrinkageNone,
		Distance:  DistanceCorrelation,
	}
}

// withDefaults fills empty enum fields.
func (o Options) withDefaults() Options {
	if o.Shrinkage == "" {
		o.Shrinkage = ShrinkageNone
	}
	if o.Distance == "" {
		o.Distance = DistanceCorrelation
	}
	return o
}

// Validate checks option values without looking at data.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch o.Shrinkage {
	case ShrinkageNone, ShrinkageQIS:
	default:
		return fmt.Errorf("%w: unsupported shrinkage %q", domain.ErrInvalidConfiguration, o.Shrinkage)
	}
	if math.IsNaN(o.Alpha) || math.IsInf(o.Alpha, 0) {
		return fmt.Errorf("%w: invalid alpha %v", domain.ErrInvalidConfiguration, o.Alpha)
	}
	return o.Distance.Validate()
}

// CorrelationSummary describes the distribution of off-diagonal correlations.
type CorrelationSummary struct {
	Mean      float64   `json:"mean"`
	Probs     []float64 `json:"probs"`
	Quantiles []float64 `json:"quantiles"`
}

// Bundle is the result of Estimate. Every matrix is owned by the bundle.
type Bundle struct {
	Returns      *mat.Dense // processed returns
	Weights      []float64
	EffectiveObs float64
	Covariance   *mat.SymDense
	Correlation  *mat.SymDense
	Distance     *mat.SymDense
	Similarity   *mat.SymDense
	MarketMode   *MarketMode
	Summary      CorrelationSummary
	Options      Options
	Provenance   provenance.Record
}

// Estimator runs the returns -> correlation -> distance stage.
// It holds no per-run state and is safe for concurrent use.
type Estimator struct {
	opts Options
	log  zerolog.Logger
}

// NewEstimator creates an estimator. Options are validated by Estimate.
func NewEstimator(opts Options, log zerolog.Logger) *Estimator {
	return &Estimator{
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "estimator").Logger(),
	}
}

// Options returns the resolved options.
func (e *Estimator) Options() Options {
	return e.opts
}

// Estimate processes an observations × assets return matrix.
func (e *Estimator) Estimate(returns mat.Matrix) (*Bundle, error) {
	if err := e.opts.Validate(); err != nil {
		return nil, err
	}
	n, p := returns.Dims()
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", domain.ErrDegenerateInput, n)
	}
	if p < 1 {
		return nil, fmt.Errorf("%w: no assets", domain.ErrDegenerateInput)
	}

	var weights []float64
	if len(e.opts.Weights) > 0 {
		w, err := ResolveWeights(e.opts.Weights, n)
		if err != nil {
			return nil, err
		}
		weights = w
	} else {
		weights, _ = formulas.ObservationWeights(n, e.opts.Alpha)
	}

	pre, err := Preprocess(returns, weights, e.opts.Preprocess)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess returns: %w", err)
	}

	cov, effObs, err := WeightedCovariance(pre.Returns, weights)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate weighted covariance: %w", err)
	}

	if e.opts.Shrinkage == ShrinkageQIS {
		shrunk, err := ShrinkQIS(cov, effObs)
		if err != nil {
			return nil, fmt.Errorf("failed to apply QIS shrinkage: %w", err)
		}
		cov = shrunk
	}

	corr, err := formulas.CorrelationMatrixFromCovariance(cov)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate correlation matrix from covariance: %w", err)
	}
	corr = formulas.Symmetrize(corr)

	dist, sim, err := Distances(e.opts.Distance, corr, pre.Returns, weights)
	if err != nil {
		return nil, err
	}

	rec, err := provenance.New("estimation", e.opts, returns)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Returns:      pre.Returns,
		Weights:      weights,
		EffectiveObs: effObs,
		Covariance:   cov,
		Correlation:  corr,
		Distance:     dist,
		Similarity:   sim,
		MarketMode:   pre.MarketMode,
		Summary:      SummarizeCorrelation(corr),
		Options:      e.opts,
		Provenance:   rec,
	}

	ev := e.log.Debug().
		Int("observations", n).
		Int("assets", p).
		Float64("effective_obs", effObs).
		Str("shrinkage", string(e.opts.Shrinkage)).
		Float64("mean_correlation", bundle.Summary.Mean)
	if pre.MarketMode != nil {
		ev = ev.Float64("market_mode_variance", pre.MarketMode.VarianceExplained)
	}
	ev.Msg("Estimated correlation structure")

	return bundle, nil
}

// SummarizeCorrelation returns mean and quantiles of the strict upper triangle.
func SummarizeCorrelation(corr mat.Symmetric) CorrelationSummary {
	p := corr.SymmetricDim()
	values := make([]float64, 0, p*(p-1)/2)
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			values = append(values, corr.At(i, j))
		}
	}
	summary := CorrelationSummary{
		Probs:     append([]float64(nil), summaryProbs...),
		Quantiles: formulas.Quantiles(values, summaryProbs),
		Mean:      math.NaN(),
	}
	if len(values) > 0 {
		summary.Mean = stat.Mean(values, nil)
	}
	return summary
}
