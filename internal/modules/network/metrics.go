package network

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph"
	gnetwork "gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
)

// WeightType names which edge weight of a Network is authoritative. The other view is
// derived from it with S = 2 - 0.5·D².
type WeightType string

const (
	WeightDistance   WeightType = "distance"
	WeightSimilarity WeightType = "similarity"
)

const (
	pageRankDamping   = 0.85
	pageRankTolerance = 1e-10
)

// Centrality holds per-node measures for one weighting of the graph.
type Centrality struct {
	// Degree is the node degree, or its similarity strength when weighted.
	Degree []float64 `json:"degree"`
	// DegreeCentrality is Degree over the edge count (or total edge similarity).
	DegreeCentrality []float64 `json:"degree_centrality"`
	Closeness        []float64 `json:"closeness"`
	Betweenness      []float64 `json:"betweenness"`
	PageRank         []float64 `json:"page_rank"`
	Eigenvector      []float64 `json:"eigenvector"`
	// Eccentricity is 1 / the longest shortest path from the node.
	Eccentricity  []float64     `json:"eccentricity"`
	ShortestPaths *mat.SymDense `json:"-"`
}

// Metrics summarizes the topology of a filtered network.
type Metrics struct {
	Nodes      int        `json:"nodes"`
	Edges      int        `json:"edges"`
	Connected  bool       `json:"connected"`
	Unweighted Centrality `json:"unweighted"`
	Weighted   Centrality `json:"weighted"`
	// TreeLength is the sum of edge distances.
	TreeLength float64 `json:"tree_length"`
	// NormalizedTreeLength is TreeLength / (Edges - 1); NaN with fewer than two edges.
	NormalizedTreeLength float64 `json:"normalized_tree_length"`
	Hybrid               Hybrid  `json:"hybrid"`
}

// ComputeMetrics computes unweighted and weighted centralities of net.
// Disconnected networks are allowed: unreachable pairs get infinite shortest paths, and
// closeness, eccentricity and the hybrid scores of nodes with an unreachable peer are NaN.
func ComputeMetrics(net *Network, weightType WeightType) (*Metrics, error) {
	if net == nil {
		return nil, fmt.Errorf("%w: nil network", domain.ErrInvalidConfiguration)
	}
	dist, sim, err := canonicalWeights(net, weightType)
	if err != nil {
		return nil, err
	}

	p := net.Nodes
	m := &Metrics{
		Nodes: p,
		Edges: len(net.Edges),
	}

	unitDist := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	weightedDist := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	binary := simple.NewUndirectedGraph()
	binaryDirected := simple.NewDirectedGraph()
	simDirected := simple.NewWeightedDirectedGraph(0, 0)
	for i := 0; i < p; i++ {
		n := simple.Node(i)
		unitDist.AddNode(n)
		weightedDist.AddNode(n)
		binary.AddNode(n)
		binaryDirected.AddNode(n)
		simDirected.AddNode(n)
	}
	for k, e := range net.Edges {
		u, v := simple.Node(e.I), simple.Node(e.J)
		unitDist.SetWeightedEdge(unitDist.NewWeightedEdge(u, v, 1))
		weightedDist.SetWeightedEdge(weightedDist.NewWeightedEdge(u, v, dist[k]))
		binary.SetEdge(binary.NewEdge(u, v))
		binaryDirected.SetEdge(binaryDirected.NewEdge(u, v))
		binaryDirected.SetEdge(binaryDirected.NewEdge(v, u))
		simDirected.SetWeightedEdge(simDirected.NewWeightedEdge(u, v, sim[k]))
		simDirected.SetWeightedEdge(simDirected.NewWeightedEdge(v, u, sim[k]))
		m.TreeLength += dist[k]
	}
	m.NormalizedTreeLength = math.NaN()
	if m.Edges > 1 {
		m.NormalizedTreeLength = m.TreeLength / float64(m.Edges-1)
	}
	m.Connected = len(topo.ConnectedComponents(binary)) <= 1

	unitPaths := path.DijkstraAllPaths(unitDist)
	weightedPaths := path.DijkstraAllPaths(weightedDist)

	unitAdj := mat.NewSymDense(p, nil)
	for _, e := range net.Edges {
		unitAdj.SetSym(e.I, e.J, 1)
	}
	simAdj := mat.NewSymDense(p, nil)
	for k, e := range net.Edges {
		simAdj.SetSym(e.I, e.J, sim[k])
	}

	m.Unweighted = Centrality{
		Degree:        degrees(p, net.Edges, nil),
		Betweenness:   normalizeBetweenness(gnetwork.Betweenness(binary), p),
		PageRank:      fromNodeMap(gnetwork.PageRank(binaryDirected, pageRankDamping, pageRankTolerance), p),
		Eigenvector:   eigenvectorCentrality(unitAdj),
		ShortestPaths: pathMatrix(unitPaths, p),
	}
	m.Unweighted.Closeness = closeness(unitDist, unitPaths, m.Unweighted.ShortestPaths)
	m.Unweighted.DegreeCentrality = scaled(m.Unweighted.Degree, float64(m.Edges))
	m.Unweighted.Eccentricity = eccentricity(m.Unweighted.ShortestPaths)

	m.Weighted = Centrality{
		Degree:        degrees(p, net.Edges, sim),
		Betweenness:   normalizeBetweenness(gnetwork.BetweennessWeighted(weightedDist, weightedPaths), p),
		PageRank:      fromNodeMap(gnetwork.PageRank(simDirected, pageRankDamping, pageRankTolerance), p),
		Eigenvector:   eigenvectorCentrality(simAdj),
		ShortestPaths: pathMatrix(weightedPaths, p),
	}
	m.Weighted.Closeness = closeness(weightedDist, weightedPaths, m.Weighted.ShortestPaths)
	m.Weighted.DegreeCentrality = scaled(m.Weighted.Degree, floats.Sum(sim))
	m.Weighted.Eccentricity = eccentricity(m.Weighted.ShortestPaths)

	m.Hybrid = HybridCentrality(m)
	return m, nil
}

// canonicalWeights returns per-edge distance and similarity, deriving one from the other.
func canonicalWeights(net *Network, weightType WeightType) ([]float64, []float64, error) {
	dist := make([]float64, len(net.Edges))
	sim := make([]float64, len(net.Edges))
	for k, e := range net.Edges {
		switch weightType {
		case WeightDistance:
			dist[k] = e.Distance
			sim[k] = 2 - 0.5*e.Distance*e.Distance
		case WeightSimilarity:
			sim[k] = e.Similarity
			dist[k] = math.Sqrt(math.Max(0, 4-2*e.Similarity))
		default:
			return nil, nil, fmt.Errorf("%w: unsupported weight type %q", domain.ErrInvalidConfiguration, weightType)
		}
		if dist[k] < 0 || math.IsNaN(dist[k]) || math.IsNaN(sim[k]) {
			return nil, nil, fmt.Errorf("%w: invalid weight on edge %d-%d", domain.ErrDegenerateInput, e.I, e.J)
		}
	}
	return dist, sim, nil
}

// degrees returns node degrees, or strengths when weights are given.
func degrees(p int, edges []Edge, weights []float64) []float64 {
	out := make([]float64, p)
	for k, e := range edges {
		w := 1.0
		if weights != nil {
			w = weights[k]
		}
		out[e.I] += w
		out[e.J] += w
	}
	return out
}

func scaled(v []float64, total float64) []float64 {
	out := make([]float64, len(v))
	if total == 0 {
		return out
	}
	copy(out, v)
	floats.Scale(1/total, out)
	return out
}

// closeness is (p - 1) / sum of distances, as in the usual normalized form. It is NaN for
// a node that cannot reach every other node.
func closeness(g graph.Graph, paths path.AllShortest, sp *mat.SymDense) []float64 {
	p := sp.SymmetricDim()
	out := make([]float64, p)
	if p < 2 {
		return out
	}
	raw := gnetwork.Closeness(g, paths)
	for i := 0; i < p; i++ {
		c, ok := raw[int64(i)]
		if !ok || !reachesAll(sp, i) || math.IsInf(c, 0) || math.IsNaN(c) {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(p-1) * c
	}
	return out
}

func reachesAll(sp *mat.SymDense, i int) bool {
	for j := 0; j < sp.SymmetricDim(); j++ {
		if math.IsInf(sp.At(i, j), 1) {
			return false
		}
	}
	return true
}

// normalizeBetweenness scales gonum's undirected betweenness, which counts each pair in
// both directions, to the [0, 1] range.
func normalizeBetweenness(raw map[int64]float64, p int) []float64 {
	out := make([]float64, p)
	if p < 3 {
		return out
	}
	norm := float64((p - 1) * (p - 2))
	for id, v := range raw {
		out[id] = v / norm
	}
	return out
}

func fromNodeMap(values map[int64]float64, p int) []float64 {
	out := make([]float64, p)
	for id, v := range values {
		out[id] = v
	}
	return out
}

func pathMatrix(paths path.AllShortest, p int) *mat.SymDense {
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			out.SetSym(i, j, paths.Weight(int64(i), int64(j)))
		}
	}
	return out
}

// eccentricity is 1 / max_j d(i, j). Nodes with no other node have zero; nodes with an
// unreachable peer have NaN.
func eccentricity(sp *mat.SymDense) []float64 {
	p := sp.SymmetricDim()
	out := make([]float64, p)
	for i := 0; i < p; i++ {
		if !reachesAll(sp, i) {
			out[i] = math.NaN()
			continue
		}
		longest := 0.0
		for j := 0; j < p; j++ {
			longest = math.Max(longest, sp.At(i, j))
		}
		if longest > 0 {
			out[i] = 1 / longest
		}
	}
	return out
}

// eigenvectorCentrality is the leading eigenvector of the adjacency matrix with unit norm.
func eigenvectorCentrality(adj *mat.SymDense) []float64 {
	p := adj.SymmetricDim()
	out := make([]float64, p)
	if p == 0 {
		return out
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(adj, true); !ok {
		return out
	}
	values := eig.Values(nil)
	top := 0
	for k := range values {
		if values[k] > values[top] {
			top = k
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	mat.Col(out, top, &vecs)
	for i := range out {
		out[i] = math.Abs(out[i])
	}
	if n := floats.Norm(out, 2); n > 0 {
		floats.Scale(1/n, out)
	}
	return out
}
