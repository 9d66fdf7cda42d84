package dynamics

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/modules/clustering/dbht"
	"github.com/aristath/marketgraph/internal/modules/network"
	"github.com/aristath/marketgraph/internal/progress"
)

// sectorReturns simulates n days of p assets in two sectors. Assets 0 and 1 are nearly
// identical.
func sectorReturns(n, p int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed+101))
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		market := rng.NormFloat64()
		sectors := [2]float64{rng.NormFloat64(), rng.NormFloat64()}
		for j := 0; j < p; j++ {
			x.Set(i, j, 0.01*(0.5*market+0.8*sectors[j%2]+rng.NormFloat64()))
		}
		x.Set(i, 1, x.At(i, 0)+0.001*rng.NormFloat64())
	}
	return x
}

func dateLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("d%03d", i)
	}
	return out
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestWindowEnds(t *testing.T) {
	tests := []struct {
		name                 string
		nDates, window, step int
		want                 []int
	}{
		{"even stride", 300, 150, 50, []int{150, 200, 250, 300}},
		{"uneven stride", 10, 3, 4, []int{6, 10}},
		{"exact fit", 5, 5, 1, []int{5}},
		{"window too long", 5, 6, 1, nil},
		{"zero step", 10, 3, 0, nil},
		{"zero window", 10, 0, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WindowEnds(tt.nDates, tt.window, tt.step))
		})
	}
}

func TestRollingDriver_Network(t *testing.T) {
	returns := sectorReturns(120, 6, 1)
	dates := dateLabels(120)
	emitter := &recordingEmitter{}
	driver := NewRollingDriver(zerolog.Nop(), nil, emitter)

	opts := RollingOptions{
		Window:      60,
		Step:        20,
		Pipeline:    DefaultPipelineOptions(),
		KeepReturns: true,
	}
	res, err := driver.Run(context.Background(), returns, dates, opts)
	require.NoError(t, err)
	require.Len(t, res.Windows, 4)

	for w, win := range res.Windows {
		assert.Equal(t, w, win.Index)
		assert.Equal(t, 60+20*w, win.End)
		assert.Equal(t, win.End-60, win.Start)
		assert.Equal(t, dates[win.End-1], win.Date)
		require.NotNil(t, win.Network)
		assert.Len(t, win.Network.Edges, 5)
		require.NotNil(t, win.Metrics)
		assert.Len(t, win.Metrics.Hybrid.XpY, 6)
		assert.Nil(t, win.Clusters)

		r, c := win.Returns.Dims()
		assert.Equal(t, 60, r)
		assert.Equal(t, 6, c)
		assert.Equal(t, returns.At(win.Start, 3), win.Returns.At(0, 3))
		// The near-duplicate pair is always linked.
		assert.True(t, win.Network.HasEdge(0, 1))
	}

	byDate := res.ByDate()
	require.Contains(t, byDate, "d119")
	assert.Equal(t, 120, byDate["d119"].End)

	assert.NotEmpty(t, res.Provenance.RunID)
	assert.Equal(t, "rolling", res.Provenance.Stage)
	assert.Equal(t, progress.EventRunStarted, emitter.events[0])
	assert.Equal(t, progress.EventRunCompleted, emitter.events[len(emitter.events)-1])
}

func TestRollingDriver_ParallelMatchesSequential(t *testing.T) {
	returns := sectorReturns(150, 8, 2)
	driver := NewRollingDriver(zerolog.Nop(), nil, nil)

	opts := RollingOptions{Window: 50, Step: 10, Pipeline: DefaultPipelineOptions()}
	opts.Pipeline.Filter.Type = network.FilterPMFG

	seq, err := driver.Run(context.Background(), returns, nil, opts)
	require.NoError(t, err)

	opts.Pipeline.Workers = 4
	par, err := driver.Run(context.Background(), returns, nil, opts)
	require.NoError(t, err)

	require.Len(t, par.Windows, len(seq.Windows))
	for w := range seq.Windows {
		assert.Equal(t, seq.Windows[w].Date, par.Windows[w].Date)
		assert.Equal(t, seq.Windows[w].Network.Edges, par.Windows[w].Network.Edges)
		assert.Equal(t, seq.Windows[w].Metrics.Hybrid, par.Windows[w].Metrics.Hybrid)
	}
	assert.Equal(t, "150", seq.Windows[len(seq.Windows)-1].Date)
	assert.Nil(t, seq.Windows[0].Returns)
}

func TestRollingDriver_Cluster(t *testing.T) {
	returns := sectorReturns(100, 6, 3)
	driver := NewRollingDriver(zerolog.Nop(), dbht.New(), nil)

	opts := RollingOptions{Window: 50, Step: 25, Pipeline: DefaultPipelineOptions()}
	opts.Pipeline.Mode = ModeCluster
	opts.Pipeline.Clustering = clustering.Options{Method: clustering.MethodDBHTTMFG, MaxClusters: 4}

	res, err := driver.Run(context.Background(), returns, dateLabels(100), opts)
	require.NoError(t, err)
	require.Len(t, res.Windows, 3)
	for _, win := range res.Windows {
		require.NotNil(t, win.Clusters)
		assert.Nil(t, win.Network)
		assert.Len(t, win.Clusters.DirectPartition, 6)
		assert.Len(t, win.Clusters.LeafOrder, 6)
	}
}

func TestRollingDriver_NoWindowFits(t *testing.T) {
	driver := NewRollingDriver(zerolog.Nop(), nil, nil)
	res, err := driver.Run(context.Background(), sectorReturns(30, 4, 4), nil,
		RollingOptions{Window: 40, Step: 5, Pipeline: DefaultPipelineOptions()})
	require.NoError(t, err)
	assert.Nil(t, res.Windows)
}

func TestRollingDriver_Errors(t *testing.T) {
	driver := NewRollingDriver(zerolog.Nop(), nil, nil)
	returns := sectorReturns(30, 4, 5)

	tests := []struct {
		name  string
		dates []string
		opts  RollingOptions
		want  error
	}{
		{"window too short", nil, RollingOptions{Window: 1, Step: 1}, domain.ErrInvalidConfiguration},
		{"zero step", nil, RollingOptions{Window: 10}, domain.ErrInvalidConfiguration},
		{"bad mode", nil, RollingOptions{Window: 10, Step: 1, Pipeline: PipelineOptions{Mode: "both"}}, domain.ErrInvalidConfiguration},
		{"bad filter", nil, RollingOptions{Window: 10, Step: 1, Pipeline: PipelineOptions{Filter: network.FilterOptions{Type: "XYZ"}}}, domain.ErrInvalidConfiguration},
		{"date mismatch", dateLabels(10), RollingOptions{Window: 10, Step: 1}, domain.ErrDimensionMismatch},
		{"dbht without oracle", nil, RollingOptions{Window: 10, Step: 5, Pipeline: PipelineOptions{
			Mode:       ModeCluster,
			Clustering: clustering.Options{Method: clustering.MethodDBHTPMFG},
		}}, domain.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := driver.Run(context.Background(), returns, tt.dates, tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRollingDriver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := NewRollingDriver(zerolog.Nop(), nil, nil)
	_, err := driver.Run(ctx, sectorReturns(100, 4, 6), nil,
		RollingOptions{Window: 20, Step: 5, Pipeline: DefaultPipelineOptions()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBootstrapSamples(t *testing.T) {
	a := BootstrapSamples(50, 20, 42)
	b := BootstrapSamples(50, 20, 42)
	c := BootstrapSamples(50, 20, 43)

	require.Len(t, a, 20)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, sample := range a {
		require.Len(t, sample, 50)
		for _, idx := range sample {
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, 50)
		}
	}
	assert.Nil(t, BootstrapSamples(50, 0, 1))
	assert.Nil(t, BootstrapSamples(0, 5, 1))
}

func TestBootstrapDriver_Network(t *testing.T) {
	returns := sectorReturns(200, 6, 7)
	emitter := &recordingEmitter{}
	driver := NewBootstrapDriver(zerolog.Nop(), nil, emitter)

	opts := BootstrapOptions{NSim: 12, Seed: 9, Pipeline: DefaultPipelineOptions()}
	res, err := driver.Run(context.Background(), returns, opts)
	require.NoError(t, err)

	require.NotNil(t, res.FullPeriod.Network)
	require.Len(t, res.EdgeSurvival, 5)
	for _, e := range res.EdgeSurvival {
		assert.GreaterOrEqual(t, e.Fraction, 0.0)
		assert.LessOrEqual(t, e.Fraction, 1.0)
		if e.I == 0 && e.J == 1 {
			assert.Equal(t, 1.0, e.Fraction, "the shortest edge is in every spanning tree")
		}
	}
	require.Len(t, res.XpYMean, 6)
	require.Len(t, res.XpYStd, 6)
	for v := range res.XpYMean {
		assert.False(t, math.IsNaN(res.XpYMean[v]))
		assert.GreaterOrEqual(t, res.XpYStd[v], 0.0)
	}
	assert.True(t, math.IsNaN(res.CountMean))
	assert.Len(t, res.Samples, 12)
	assert.Equal(t, "bootstrap", res.Provenance.Stage)
	assert.Contains(t, emitter.events, progress.EventRunCompleted)
}

func TestBootstrapDriver_ParallelMatchesSequential(t *testing.T) {
	returns := sectorReturns(120, 5, 8)
	driver := NewBootstrapDriver(zerolog.Nop(), nil, nil)

	opts := BootstrapOptions{NSim: 10, Seed: 3, Pipeline: DefaultPipelineOptions()}
	seq, err := driver.Run(context.Background(), returns, opts)
	require.NoError(t, err)

	opts.Pipeline.Workers = 3
	par, err := driver.Run(context.Background(), returns, opts)
	require.NoError(t, err)

	assert.Equal(t, seq.EdgeSurvival, par.EdgeSurvival)
	assert.Equal(t, seq.XpYMean, par.XpYMean)
	assert.Equal(t, seq.XpYStd, par.XpYStd)
}

func TestBootstrapDriver_Cluster(t *testing.T) {
	returns := sectorReturns(150, 6, 10)
	driver := NewBootstrapDriver(zerolog.Nop(), dbht.New(), nil)

	opts := BootstrapOptions{NSim: 6, Seed: 1, Pipeline: DefaultPipelineOptions()}
	opts.Pipeline.Mode = ModeCluster
	opts.Pipeline.Clustering = clustering.Options{Method: clustering.MethodComplete, Clusters: 2}

	res, err := driver.Run(context.Background(), returns, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2, 2, 2, 2}, res.ClusterCounts)
	assert.Equal(t, 2.0, res.CountMean)
	assert.Equal(t, 0.0, res.CountStd)
	assert.Nil(t, res.EdgeSurvival)

	opts.Pipeline.Clustering = clustering.Options{Method: clustering.MethodDBHTPMFG}
	res, err = driver.Run(context.Background(), returns, opts)
	require.NoError(t, err)
	require.Len(t, res.ClusterCounts, 6)
	lo, hi := res.ClusterCounts[0], res.ClusterCounts[0]
	for _, c := range res.ClusterCounts {
		assert.GreaterOrEqual(t, c, 1)
		lo, hi = min(lo, c), max(hi, c)
	}
	assert.GreaterOrEqual(t, res.CountMean, float64(lo))
	assert.LessOrEqual(t, res.CountMean, float64(hi))
}

func TestSampleMeanStd(t *testing.T) {
	mean, std := sampleMeanStd([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), std, 1e-12)

	mean, std = sampleMeanStd([]float64{7})
	assert.Equal(t, 7.0, mean)
	assert.Equal(t, 0.0, std)
}

func TestBootstrapDriver_BaselineOnly(t *testing.T) {
	driver := NewBootstrapDriver(zerolog.Nop(), nil, nil)
	opts := BootstrapOptions{Pipeline: DefaultPipelineOptions()}
	opts.Pipeline.Mode = ModeCluster

	res, err := driver.Run(context.Background(), sectorReturns(60, 4, 11), opts)
	require.NoError(t, err)
	require.NotNil(t, res.FullPeriod.Clusters)
	assert.Empty(t, res.ClusterCounts)
	assert.True(t, math.IsNaN(res.CountMean))
	assert.True(t, math.IsNaN(res.CountStd))

	opts.Pipeline.Mode = ModeNetwork
	res, err = driver.Run(context.Background(), sectorReturns(60, 4, 11), opts)
	require.NoError(t, err)
	require.Len(t, res.EdgeSurvival, 3)
	assert.True(t, math.IsNaN(res.EdgeSurvival[0].Fraction))
	assert.True(t, math.IsNaN(res.XpYMean[0]))
}

func TestBootstrapDriver_Errors(t *testing.T) {
	driver := NewBootstrapDriver(zerolog.Nop(), nil, nil)
	returns := sectorReturns(40, 4, 12)

	_, err := driver.Run(context.Background(), returns, BootstrapOptions{NSim: -1})
	assert.ErrorIs(t, err, domain.ErrDegenerateInput)

	_, err = driver.Run(context.Background(), nil, BootstrapOptions{NSim: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = driver.Run(context.Background(), sectorReturns(1, 4, 12), BootstrapOptions{NSim: 1})
	assert.ErrorIs(t, err, domain.ErrDegenerateInput)
}
