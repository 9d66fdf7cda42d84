package dbht

import (
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/modules/network"
	"github.com/aristath/marketgraph/pkg/formulas"
)

// blockMatrices returns distance and similarity matrices for p assets in blocks of
// blockSize sharing a sector factor on top of a weak market factor.
func blockMatrices(t *testing.T, p, blockSize int, seed uint64) (*mat.SymDense, *mat.SymDense) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	n := 400
	blocks := (p + blockSize - 1) / blockSize
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		market := rng.NormFloat64()
		sector := make([]float64, blocks)
		for b := range sector {
			sector[b] = rng.NormFloat64()
		}
		for j := 0; j < p; j++ {
			x.Set(i, j, 0.3*market+sector[j/blockSize]+0.6*rng.NormFloat64())
		}
	}
	corr := mat.NewSymDense(p, nil)
	stat.CorrelationMatrix(corr, x, nil)
	d := formulas.CorrelationToDistance(corr)
	return d, formulas.DistanceToSimilarity(d)
}

func requireConsistent(t *testing.T, res *clustering.DBHTResult, p int) {
	t.Helper()
	require.NotNil(t, res.Tree)
	require.NoError(t, res.Tree.Validate())
	assert.Equal(t, p, res.Tree.N)
	require.Len(t, res.Partition, p)

	k := 0
	for _, c := range res.Partition {
		require.GreaterOrEqual(t, c, 1)
		k = max(k, c)
	}
	seen := make(map[int]bool)
	for _, c := range res.Partition {
		seen[c] = true
	}
	assert.Len(t, seen, k, "cluster labels must be contiguous")

	covered := make(map[int]bool)
	for _, b := range res.Bubbles {
		for _, v := range b {
			covered[v] = true
		}
	}
	assert.Len(t, covered, p, "bubbles must cover every vertex")

	// Cutting the tree at the DBHT cluster count gives back the DBHT partition.
	cut := clustering.CutTree(res.Tree, k)
	ari, err := clustering.AdjustedRandIndex(cut, res.Partition)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ari, 1e-12)
}

func TestHierarchy_PMFG(t *testing.T) {
	for _, p := range []int{3, 4, 6, 12, 20} {
		d, s := blockMatrices(t, p, 4, uint64(p))
		res, err := New().Hierarchy(d, s, network.FilterPMFG)
		require.NoError(t, err, "p=%d", p)
		requireConsistent(t, res, p)
	}
}

func TestHierarchy_TMFG(t *testing.T) {
	p := 10
	d, s := blockMatrices(t, p, 5, 7)
	res, err := New().Hierarchy(d, s, network.FilterTMFG)
	require.NoError(t, err)
	requireConsistent(t, res, p)

	// Every insertion into a TMFG face creates a separating triangle, so the bubbles are
	// the p-3 tetrahedra.
	require.Len(t, res.Bubbles, p-3)
	for _, b := range res.Bubbles {
		assert.Len(t, b, 4)
	}
}

func TestHierarchy_Deterministic(t *testing.T) {
	d, s := blockMatrices(t, 15, 5, 3)
	a, err := New().Hierarchy(d, s, network.FilterPMFG)
	require.NoError(t, err)
	b, err := New().Hierarchy(d, s, network.FilterPMFG)
	require.NoError(t, err)
	assert.Equal(t, a.Partition, b.Partition)
	assert.Equal(t, a.Tree, b.Tree)
}

func TestHierarchy_InvalidBase(t *testing.T) {
	d, s := blockMatrices(t, 6, 3, 1)
	_, err := New().Hierarchy(d, s, network.FilterMST)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestHierarchy_ThroughEngine(t *testing.T) {
	d, s := blockMatrices(t, 12, 4, 11)
	engine := clustering.NewEngine(zerolog.Nop(), New())
	res, err := engine.Cluster(d, s, clustering.Options{Method: clustering.MethodDBHTTMFG, MaxClusters: 6})
	require.NoError(t, err)
	require.NotNil(t, res.DirectPartition)

	ari, err := clustering.AdjustedRandIndex(res.Reference, res.DirectPartition)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ari, 1e-12)
	assert.Len(t, res.LeafOrder, 12)
}

// twoTetrahedra is K4 {0,1,2,3} and K4 {0,1,2,4} glued on the triangle {0,1,2}.
func twoTetrahedra(strong float64) *planarGraph {
	g := &planarGraph{n: 5, adj: make([][]bool, 5), sim: make([][]float64, 5)}
	for i := range g.adj {
		g.adj[i] = make([]bool, 5)
		g.sim[i] = make([]float64, 5)
	}
	add := func(i, j int, s float64) {
		g.adj[i][j], g.adj[j][i] = true, true
		g.sim[i][j], g.sim[j][i] = s, s
	}
	add(0, 1, 1)
	add(0, 2, 1)
	add(1, 2, 1)
	for _, t := range []int{0, 1, 2} {
		add(3, t, strong)
		add(4, t, 1)
	}
	return g
}

func TestDecompose_SeparatingTriangle(t *testing.T) {
	g := twoTetrahedra(1.5)
	bubbles, links := decompose(g)
	require.Len(t, bubbles, 2)
	assert.Equal(t, []int{0, 1, 2, 3}, bubbles[0])
	assert.Equal(t, []int{0, 1, 2, 4}, bubbles[1])
	require.Len(t, links, 1)
	assert.Equal(t, [3]int{0, 1, 2}, links[0].tri)

	// The link points at the bubble of the more strongly tied vertex 3.
	out := directLinks(g, bubbles, links)
	assert.Equal(t, []int{0, 1}, out)

	// Equal strength points at the lower bubble.
	out = directLinks(twoTetrahedra(1), bubbles, links)
	assert.Equal(t, []int{0, 1}, out)
}

func TestAssignVertices_NonConvergingVertexJoinsNearestCluster(t *testing.T) {
	g := twoTetrahedra(1.5)
	bubbles, _ := decompose(g)
	sp := [][]float64{
		{0, 1, 1, 1, 1},
		{1, 0, 1, 1, 1},
		{1, 1, 0, 1, 1},
		{1, 1, 1, 0, 2},
		{1, 1, 1, 2, 0},
	}
	cluster, centres := assignVertices(g, sp, bubbles, []int{0})
	assert.Equal(t, []int{0, 0, 0, 0, 0}, cluster)
	assert.Equal(t, []int{0}, centres)

	home := homeBubbles(g, bubbles, centres, cluster)
	assert.Equal(t, []int{0, 0, 0, 0, 1}, home)
}

func TestBuildHierarchy_LevelsAndRenumbering(t *testing.T) {
	sp := [][]float64{
		{0, 5, 2, 2},
		{5, 0, 2, 2},
		{2, 2, 0, 1},
		{2, 2, 1, 0},
	}
	tree := buildHierarchy(4, sp, []int{0, 0, 1, 1}, []int{0, 0, 1, 1})
	require.NoError(t, tree.Validate())
	assert.Equal(t, []clustering.Merge{
		{A: 2, B: 3, Height: 1, Size: 2},
		{A: 0, B: 1, Height: 5, Size: 2},
		{A: 4, B: 5, Height: 2, Size: 4},
	}, tree.Merges)
	assert.False(t, tree.Monotonic())
}
