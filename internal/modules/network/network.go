// Package network filters a complete asset similarity graph into a sparse, connected
// network (MST, PMFG or TMFG) and computes its topology metrics.
package network

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
)

// FilterType selects the filtering algorithm.
type FilterType string

const (
	// FilterMST keeps the p-1 edges of the minimum spanning tree on distance.
	FilterMST FilterType = "MST"
	// FilterPMFG greedily keeps the strongest edges that leave the graph planar.
	FilterPMFG FilterType = "PMFG"
	// FilterTMFG builds a maximal planar graph by inserting vertices into triangular faces.
	FilterTMFG FilterType = "TMFG"
)

// Edge is one filtered link with I < J.
type Edge struct {
	I          int     `json:"i"`
	J          int     `json:"j"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// Network is a sparse filtered graph over Nodes assets.
type Network struct {
	Type  FilterType `json:"type"`
	Nodes int        `json:"nodes"`
	Edges []Edge     `json:"edges"`
	// Distance and Similarity hold the edge weights and zero wherever there is no edge.
	Distance   *mat.SymDense `json:"-"`
	Similarity *mat.SymDense `json:"-"`
}

// HasEdge reports whether i and j are linked.
func (n *Network) HasEdge(i, j int) bool {
	return i != j && n.edgeIndex(i, j) >= 0
}

func (n *Network) edgeIndex(i, j int) int {
	if i > j {
		i, j = j, i
	}
	for k, e := range n.Edges {
		if e.I == i && e.J == j {
			return k
		}
	}
	return -1
}

// EdgeSet returns the edges keyed by their (I, J) pair.
func (n *Network) EdgeSet() map[[2]int]struct{} {
	set := make(map[[2]int]struct{}, len(n.Edges))
	for _, e := range n.Edges {
		set[[2]int{e.I, e.J}] = struct{}{}
	}
	return set
}

// FilterOptions configures Filter.
type FilterOptions struct {
	Type FilterType `json:"type" msgpack:"type"`
	// Oracle decides planarity for PMFG; nil uses LRPlanarity.
	Oracle PlanarityOracle `json:"-" msgpack:"-"`
}

// DefaultFilterOptions returns the MST filter.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{Type: FilterMST}
}

// Validate checks the filter type.
func (o FilterOptions) Validate() error {
	switch o.Type {
	case FilterMST, FilterPMFG, FilterTMFG:
		return nil
	default:
		return fmt.Errorf("%w: unsupported filter type %q", domain.ErrInvalidConfiguration, o.Type)
	}
}

// candidate is an edge of the complete graph.
type candidate struct {
	i, j int
	d, s float64
}

// Filter reduces the complete graph given by the paired distance and similarity
// matrices to a sparse network.
func Filter(d, s *mat.SymDense, opts FilterOptions) (*Network, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if d == nil || s == nil {
		return nil, fmt.Errorf("%w: distance and similarity matrices are required", domain.ErrInvalidConfiguration)
	}
	p := d.SymmetricDim()
	if s.SymmetricDim() != p {
		return nil, fmt.Errorf("%w: distance is %dx%d, similarity is %dx%d",
			domain.ErrDimensionMismatch, p, p, s.SymmetricDim(), s.SymmetricDim())
	}
	if p == 0 {
		return nil, fmt.Errorf("%w: empty distance matrix", domain.ErrDegenerateInput)
	}

	candidates, err := rankedCandidates(d, s)
	if err != nil {
		return nil, err
	}

	var kept []candidate
	switch opts.Type {
	case FilterMST:
		kept = spanningTree(p, candidates)
	case FilterPMFG:
		oracle := opts.Oracle
		if oracle == nil {
			oracle = LRPlanarity{}
		}
		kept = planarFilter(p, candidates, oracle)
	case FilterTMFG:
		kept = triangulatedFilter(p, s, d)
	}

	return newNetwork(opts.Type, p, kept), nil
}

// rankedCandidates lists every pair ordered by descending similarity, then ascending
// distance, then (i, j). MST and PMFG consume the same order so the tree is always
// contained in the planar graph.
func rankedCandidates(d, s *mat.SymDense) ([]candidate, error) {
	p := d.SymmetricDim()
	out := make([]candidate, 0, p*(p-1)/2)
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			c := candidate{i: i, j: j, d: d.At(i, j), s: s.At(i, j)}
			if math.IsNaN(c.d) || math.IsNaN(c.s) {
				return nil, fmt.Errorf("%w: NaN weight between %d and %d", domain.ErrDegenerateInput, i, j)
			}
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].s != out[b].s {
			return out[a].s > out[b].s
		}
		if out[a].d != out[b].d {
			return out[a].d < out[b].d
		}
		if out[a].i != out[b].i {
			return out[a].i < out[b].i
		}
		return out[a].j < out[b].j
	})
	return out, nil
}

// spanningTree runs Kruskal over the ranked candidates.
func spanningTree(p int, candidates []candidate) []candidate {
	uf := newUnionFind(p)
	kept := make([]candidate, 0, p-1)
	for _, c := range candidates {
		if len(kept) == p-1 {
			break
		}
		if uf.union(c.i, c.j) {
			kept = append(kept, c)
		}
	}
	return kept
}

// maxPlanarEdges is the edge count of a maximal planar graph on p vertices.
func maxPlanarEdges(p int) int {
	if p < 3 {
		return p * (p - 1) / 2
	}
	return 3 * (p - 2)
}

// planarFilter inserts candidates in rank order while the graph stays planar.
func planarFilter(p int, candidates []candidate, oracle PlanarityOracle) []candidate {
	target := maxPlanarEdges(p)
	kept := make([]candidate, 0, target)
	edges := make([][2]int, 0, target+1)
	for _, c := range candidates {
		if len(kept) == target {
			break
		}
		trial := append(edges, [2]int{c.i, c.j})
		// Every graph with fewer than 9 edges is planar (K3,3 has 9).
		if len(trial) >= 9 && !oracle.IsPlanar(p, trial) {
			continue
		}
		edges = trial
		kept = append(kept, c)
	}
	return kept
}

func newNetwork(t FilterType, p int, kept []candidate) *Network {
	net := &Network{
		Type:       t,
		Nodes:      p,
		Edges:      make([]Edge, 0, len(kept)),
		Distance:   mat.NewSymDense(p, nil),
		Similarity: mat.NewSymDense(p, nil),
	}
	for _, c := range kept {
		i, j := c.i, c.j
		if i > j {
			i, j = j, i
		}
		net.Edges = append(net.Edges, Edge{I: i, J: j, Distance: c.d, Similarity: c.s})
		net.Distance.SetSym(i, j, c.d)
		net.Similarity.SetSym(i, j, c.s)
	}
	sort.Slice(net.Edges, func(a, b int) bool {
		if net.Edges[a].I != net.Edges[b].I {
			return net.Edges[a].I < net.Edges[b].I
		}
		return net.Edges[a].J < net.Edges[b].J
	})
	return net
}

// unionFind is a disjoint-set forest with path halving.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union merges the sets of a and b and reports whether they were distinct.
func (u *unionFind) union(a, b int) bool {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
	return true
}
