package dynamics

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/progress"
	"github.com/aristath/marketgraph/internal/provenance"
	"github.com/aristath/marketgraph/internal/utils"
)

// seedStream is the second PCG word; the first is the user seed.
const seedStream = 0x5851f42d4c957f2d

// BootstrapSamples draws nSim resamples with replacement of the row indices 0..n-1.
// Sample s is out[s]; the same seed always gives the same samples.
func BootstrapSamples(n, nSim int, seed uint64) [][]int {
	if n <= 0 || nSim <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, seedStream))
	out := make([][]int, nSim)
	for s := range out {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.IntN(n)
		}
		out[s] = idx
	}
	return out
}

// BootstrapOptions configures a bootstrap run.
type BootstrapOptions struct {
	NSim     int             `json:"n_sim" msgpack:"n_sim"`
	Seed     uint64          `json:"seed" msgpack:"seed"`
	Pipeline PipelineOptions `json:"pipeline" msgpack:"pipeline"`
}

// Validate checks the options without looking at data.
func (o BootstrapOptions) Validate() error {
	if o.NSim < 0 {
		return fmt.Errorf("%w: negative simulation count %d", domain.ErrDegenerateInput, o.NSim)
	}
	return o.Pipeline.Validate()
}

// EdgeSurvival is how often a full-period edge reappears in the resampled networks.
type EdgeSurvival struct {
	I        int     `json:"i"`
	J        int     `json:"j"`
	Fraction float64 `json:"fraction"`
}

// BootstrapResult aggregates the resampled runs against the full-period baseline.
// Std fields are sample standard deviations (N-1 denominator), zero for a single sample
// and NaN with no samples.
type BootstrapResult struct {
	FullPeriod *Snapshot `json:"full_period"`
	Samples    [][]int   `json:"-"`

	// Cluster mode
	ClusterCounts []int   `json:"cluster_counts,omitempty"`
	CountMean     float64 `json:"count_mean"`
	CountStd      float64 `json:"count_std"`

	// Network mode
	EdgeSurvival []EdgeSurvival `json:"edge_survival,omitempty"`
	XpYMean      []float64      `json:"xpy_mean,omitempty"`
	XpYStd       []float64      `json:"xpy_std,omitempty"`

	Provenance provenance.Record `json:"provenance"`
}

// BootstrapDriver measures how stable the pipeline output is under resampling.
type BootstrapDriver struct {
	log     zerolog.Logger
	dbht    clustering.DBHTOracle
	emitter progress.Emitter
}

// NewBootstrapDriver creates a driver. dbht may be nil unless a DBHT method is used;
// emitter may be nil.
func NewBootstrapDriver(log zerolog.Logger, dbht clustering.DBHTOracle, emitter progress.Emitter) *BootstrapDriver {
	return &BootstrapDriver{
		log:     log.With().Str("component", "bootstrap_driver").Logger(),
		dbht:    dbht,
		emitter: emitter,
	}
}

// sampleOutcome is what one resample contributes to the aggregate.
type sampleOutcome struct {
	clusters int
	edges    map[[2]int]struct{}
	xpy      []float64
}

// Run computes the full-period baseline and one pipeline run per resample. With
// NSim == 0 only the baseline is returned and the aggregates are NaN or empty.
func (d *BootstrapDriver) Run(ctx context.Context, returns mat.Matrix, opts BootstrapOptions) (*BootstrapResult, error) {
	opts.Pipeline = opts.Pipeline.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if returns == nil {
		return nil, fmt.Errorf("%w: returns are required", domain.ErrInvalidConfiguration)
	}

	rec, err := provenance.New("bootstrap", opts, returns)
	if err != nil {
		return nil, err
	}
	timer := utils.NewTimer("bootstrap", d.log)

	full := mat.DenseCopyOf(returns)
	n, p := full.Dims()
	pl := newPipeline(opts.Pipeline, d.log, d.dbht)

	baseline, err := pl.run(full)
	if err != nil {
		return nil, fmt.Errorf("full period: %w", err)
	}
	res := &BootstrapResult{
		FullPeriod: baseline,
		Samples:    BootstrapSamples(n, opts.NSim, opts.Seed),
		Provenance: rec,
	}

	reporter := progress.NewReporter(d.emitter, rec.RunID, "bootstrap", opts.NSim)
	reporter.Start()

	outcomes := make([]sampleOutcome, opts.NSim)
	err = forEach(ctx, opts.NSim, opts.Pipeline.Workers, func(_ context.Context, s int) error {
		resampled := mat.NewDense(n, p, nil)
		for i, row := range res.Samples[s] {
			resampled.SetRow(i, full.RawRowView(row))
		}

		snap, err := pl.run(resampled)
		if err != nil {
			return fmt.Errorf("sample %d: %w", s, err)
		}
		outcomes[s] = summarize(snap)
		reporter.Done(fmt.Sprintf("sample %d", s+1))
		return nil
	})
	reporter.Finish(err)
	if err != nil {
		return nil, err
	}

	switch opts.Pipeline.Mode {
	case ModeCluster:
		aggregateClusters(res, outcomes)
	case ModeNetwork:
		aggregateNetworks(res, outcomes, p)
	}

	timer.StopWithFields(map[string]any{
		"samples": opts.NSim,
		"mode":    string(opts.Pipeline.Mode),
	})
	d.log.Debug().
		Int("samples", opts.NSim).
		Float64("count_mean", res.CountMean).
		Int("baseline_edges", len(res.EdgeSurvival)).
		Msg("Bootstrap finished")
	return res, nil
}

// summarize keeps only what the aggregates need so the snapshots can be dropped.
func summarize(snap *Snapshot) sampleOutcome {
	var out sampleOutcome
	if snap.Clusters != nil {
		out.clusters = snap.Clusters.NClusters
	}
	if snap.Network != nil {
		out.edges = snap.Network.EdgeSet()
	}
	if snap.Metrics != nil {
		out.xpy = snap.Metrics.Hybrid.XpY
	}
	return out
}

func aggregateClusters(res *BootstrapResult, outcomes []sampleOutcome) {
	res.CountMean, res.CountStd = math.NaN(), math.NaN()
	if len(outcomes) == 0 {
		return
	}
	res.ClusterCounts = make([]int, len(outcomes))
	counts := make([]float64, len(outcomes))
	for s, o := range outcomes {
		res.ClusterCounts[s] = o.clusters
		counts[s] = float64(o.clusters)
	}
	res.CountMean, res.CountStd = sampleMeanStd(counts)
}

func aggregateNetworks(res *BootstrapResult, outcomes []sampleOutcome, p int) {
	res.CountMean, res.CountStd = math.NaN(), math.NaN()

	base := res.FullPeriod.Network
	res.EdgeSurvival = make([]EdgeSurvival, len(base.Edges))
	for k, e := range base.Edges {
		res.EdgeSurvival[k] = EdgeSurvival{I: e.I, J: e.J, Fraction: math.NaN()}
	}
	res.XpYMean = make([]float64, p)
	res.XpYStd = make([]float64, p)
	if len(outcomes) == 0 {
		for v := 0; v < p; v++ {
			res.XpYMean[v], res.XpYStd[v] = math.NaN(), math.NaN()
		}
		return
	}

	for k := range res.EdgeSurvival {
		key := [2]int{res.EdgeSurvival[k].I, res.EdgeSurvival[k].J}
		hits := 0
		for _, o := range outcomes {
			if _, ok := o.edges[key]; ok {
				hits++
			}
		}
		res.EdgeSurvival[k].Fraction = float64(hits) / float64(len(outcomes))
	}

	column := make([]float64, len(outcomes))
	for v := 0; v < p; v++ {
		for s, o := range outcomes {
			column[s] = o.xpy[v]
		}
		res.XpYMean[v], res.XpYStd[v] = sampleMeanStd(column)
	}
}

// sampleMeanStd is the mean and the N-1 standard deviation; one value has zero spread.
func sampleMeanStd(x []float64) (float64, float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
