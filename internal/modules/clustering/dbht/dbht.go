// Package dbht implements the Direct Bubble Hierarchical Tree clustering of Song,
// Di Matteo and Aste (2012) on a planar filtered graph.
//
// The planar graph is cut along its separating triangles into bubbles (maximal planar
// pieces without separating triangles). Each bubble-tree edge points towards the side
// more strongly tied to the shared triangle. Bubbles with no outgoing edge become the
// clusters. The hierarchy is complete linkage on shortest-path distances in three
// levels: within bubbles, between bubbles of a cluster, between clusters.
package dbht

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/modules/network"
)

// DBHT is the default clustering.DBHTOracle.
type DBHT struct {
	// Planarity is passed to the PMFG filter; nil uses network.LRPlanarity.
	Planarity network.PlanarityOracle
}

// New returns a DBHT oracle with the default planarity test.
func New() *DBHT {
	return &DBHT{}
}

// Hierarchy implements clustering.DBHTOracle.
func (o *DBHT) Hierarchy(d, s *mat.SymDense, base network.FilterType) (*clustering.DBHTResult, error) {
	if base != network.FilterPMFG && base != network.FilterTMFG {
		return nil, fmt.Errorf("%w: DBHT needs a planar base graph, got %q", domain.ErrInvalidConfiguration, base)
	}
	net, err := network.Filter(d, s, network.FilterOptions{Type: base, Oracle: o.Planarity})
	if err != nil {
		return nil, err
	}
	p := net.Nodes

	g := newGraph(net)
	bubbles, links := decompose(g)
	out := directLinks(g, bubbles, links)

	var converging []int
	for b := range bubbles {
		if out[b] == 0 {
			converging = append(converging, b)
		}
	}

	sp := shortestPaths(net)
	cluster, centres := assignVertices(g, sp, bubbles, converging)
	home := homeBubbles(g, bubbles, centres, cluster)

	tree := buildHierarchy(p, sp, cluster, home)

	partition := make([]int, p)
	for v, c := range cluster {
		partition[v] = c + 1
	}
	return &clustering.DBHTResult{
		Tree:      tree,
		Partition: partition,
		Bubbles:   bubbles,
	}, nil
}

// planarGraph is the filtered graph as a dense adjacency with similarity weights.
type planarGraph struct {
	n   int
	adj [][]bool
	sim [][]float64
}

func newGraph(net *network.Network) *planarGraph {
	g := &planarGraph{n: net.Nodes, adj: make([][]bool, net.Nodes), sim: make([][]float64, net.Nodes)}
	for i := range g.adj {
		g.adj[i] = make([]bool, net.Nodes)
		g.sim[i] = make([]float64, net.Nodes)
	}
	for _, e := range net.Edges {
		g.adj[e.I][e.J], g.adj[e.J][e.I] = true, true
		g.sim[e.I][e.J], g.sim[e.J][e.I] = e.Similarity, e.Similarity
	}
	return g
}

// link joins two bubbles that share a separating triangle.
type link struct {
	a, b int
	tri  [3]int
}

type decomposer struct {
	g       *planarGraph
	bubbles [][]int
	links   []link
}

// decompose splits the graph into bubbles along separating triangles.
func decompose(g *planarGraph) ([][]int, []link) {
	all := make([]int, g.n)
	for i := range all {
		all[i] = i
	}
	dc := &decomposer{g: g}
	dc.split(all)
	return dc.bubbles, dc.links
}

// split decomposes the induced subgraph on vertices (sorted) and appends its bubbles.
func (dc *decomposer) split(vertices []int) {
	tri, parts := dc.separatingTriangle(vertices)
	if parts == nil {
		dc.bubbles = append(dc.bubbles, vertices)
		return
	}

	anchor := -1
	for _, part := range parts {
		from := len(dc.bubbles)
		piece := append(append([]int(nil), part...), tri[:]...)
		sort.Ints(piece)
		dc.split(piece)

		holder := from
		for b := from; b < len(dc.bubbles); b++ {
			if containsAll(dc.bubbles[b], tri[:]) {
				holder = b
				break
			}
		}
		if anchor < 0 {
			anchor = holder
		} else {
			dc.links = append(dc.links, link{a: anchor, b: holder, tri: tri})
		}
	}
}

// separatingTriangle finds the first triangle, in vertex order, whose removal
// disconnects the induced subgraph, and returns the resulting components.
func (dc *decomposer) separatingTriangle(vertices []int) ([3]int, [][]int) {
	adj := dc.g.adj
	for x, i := range vertices {
		for y := x + 1; y < len(vertices); y++ {
			j := vertices[y]
			if !adj[i][j] {
				continue
			}
			for z := y + 1; z < len(vertices); z++ {
				k := vertices[z]
				if !adj[i][k] || !adj[j][k] {
					continue
				}
				tri := [3]int{i, j, k}
				if comps := dc.components(vertices, tri); len(comps) > 1 {
					return tri, comps
				}
			}
		}
	}
	return [3]int{}, nil
}

// components lists the connected components of vertices minus the removed triangle.
func (dc *decomposer) components(vertices []int, removed [3]int) [][]int {
	in := make(map[int]bool, len(vertices))
	for _, v := range vertices {
		in[v] = true
	}
	for _, v := range removed {
		delete(in, v)
	}
	seen := make(map[int]bool, len(in))
	var comps [][]int
	for _, start := range vertices {
		if !in[start] || seen[start] {
			continue
		}
		comp := []int{start}
		seen[start] = true
		for q := 0; q < len(comp); q++ {
			v := comp[q]
			for _, w := range vertices {
				if in[w] && !seen[w] && dc.g.adj[v][w] {
					seen[w] = true
					comp = append(comp, w)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// directLinks orients every bubble-tree link towards the side whose vertices have the
// larger total similarity to the separating triangle, and returns out-degrees.
// Ties point towards the bubble with the lower index.
func directLinks(g *planarGraph, bubbles [][]int, links []link) []int {
	out := make([]int, len(bubbles))
	treeAdj := make([][]int, len(bubbles))
	for k, l := range links {
		treeAdj[l.a] = append(treeAdj[l.a], k)
		treeAdj[l.b] = append(treeAdj[l.b], k)
	}

	for k, l := range links {
		sa := sideStrength(g, bubbles, links, treeAdj, k, l.a)
		sb := sideStrength(g, bubbles, links, treeAdj, k, l.b)
		switch {
		case sb > sa:
			out[l.a]++
		case sa > sb:
			out[l.b]++
		case l.a < l.b:
			out[l.b]++
		default:
			out[l.a]++
		}
	}
	return out
}

// sideStrength sums the filtered similarity between the triangle of links[cut] and every
// other vertex on the start side of the bubble tree once that link is removed.
func sideStrength(g *planarGraph, bubbles [][]int, links []link, treeAdj [][]int, cut, start int) float64 {
	tri := links[cut].tri
	visited := make([]bool, len(bubbles))
	visited[start] = true
	queue := []int{start}
	vertices := make(map[int]bool)
	for q := 0; q < len(queue); q++ {
		b := queue[q]
		for _, v := range bubbles[b] {
			vertices[v] = true
		}
		for _, k := range treeAdj[b] {
			if k == cut {
				continue
			}
			next := links[k].a
			if next == b {
				next = links[k].b
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, t := range tri {
		delete(vertices, t)
	}

	side := make([]int, 0, len(vertices))
	for v := range vertices {
		side = append(side, v)
	}
	sort.Ints(side)

	strength := 0.0
	for _, v := range side {
		for _, t := range tri {
			if g.adj[v][t] {
				strength += g.sim[v][t]
			}
		}
	}
	return strength
}

// shortestPaths returns all-pairs shortest-path lengths over filtered distances.
func shortestPaths(net *network.Network) [][]float64 {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < net.Nodes; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, e := range net.Edges {
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(e.I), simple.Node(e.J), e.Distance))
	}
	paths := path.DijkstraAllPaths(g)

	sp := make([][]float64, net.Nodes)
	for i := range sp {
		sp[i] = make([]float64, net.Nodes)
		for j := range sp[i] {
			if i != j {
				sp[i][j] = paths.Weight(int64(i), int64(j))
			}
		}
	}
	return sp
}

// chi is the mean filtered similarity between v and the other vertices of a bubble.
func chi(g *planarGraph, bubble []int, v int) float64 {
	if len(bubble) < 2 {
		return 0
	}
	sum := 0.0
	for _, u := range bubble {
		if u != v {
			sum += g.sim[v][u]
		}
	}
	return sum / float64(len(bubble)-1)
}

// assignVertices maps every vertex to a cluster index. Vertices of exactly one
// converging bubble join it; vertices shared by several pick the one they are most
// similar to; the rest join the cluster at the smallest mean shortest-path distance.
// Clusters that end up empty are dropped and the rest renumbered in bubble order; the
// second result maps each cluster to its converging bubble.
func assignVertices(g *planarGraph, sp [][]float64, bubbles [][]int, converging []int) ([]int, []int) {
	cluster := make([]int, g.n)
	for v := range cluster {
		cluster[v] = -1
	}
	for v := 0; v < g.n; v++ {
		best, bestChi := -1, math.Inf(-1)
		for c, b := range converging {
			if !containsAll(bubbles[b], []int{v}) {
				continue
			}
			if x := chi(g, bubbles[b], v); best < 0 || x > bestChi {
				best, bestChi = c, x
			}
		}
		cluster[v] = best
	}

	members := make([][]int, len(converging))
	for v, c := range cluster {
		if c >= 0 {
			members[c] = append(members[c], v)
		}
	}
	for v, c := range cluster {
		if c >= 0 {
			continue
		}
		best, bestDist := -1, math.Inf(1)
		for c, ms := range members {
			if len(ms) == 0 {
				continue
			}
			sum := 0.0
			for _, u := range ms {
				sum += sp[v][u]
			}
			if mean := sum / float64(len(ms)); best < 0 || mean < bestDist {
				best, bestDist = c, mean
			}
		}
		cluster[v] = best
	}

	relabel := make(map[int]int)
	var centres []int
	for c, b := range converging {
		if len(members[c]) > 0 {
			relabel[c] = len(centres)
			centres = append(centres, b)
		}
	}
	for v, c := range cluster {
		cluster[v] = relabel[c]
	}
	return cluster, centres
}

// homeBubbles picks the bubble each vertex is grouped with inside its cluster: the
// cluster's converging bubble when the vertex belongs to it, otherwise the bubble it is
// most similar to.
func homeBubbles(g *planarGraph, bubbles [][]int, centres []int, cluster []int) []int {
	home := make([]int, g.n)
	for v := 0; v < g.n; v++ {
		if centre := centres[cluster[v]]; containsAll(bubbles[centre], []int{v}) {
			home[v] = centre
			continue
		}
		best, bestChi := -1, math.Inf(-1)
		for b, bubble := range bubbles {
			if !containsAll(bubble, []int{v}) {
				continue
			}
			if x := chi(g, bubble, v); best < 0 || x > bestChi {
				best, bestChi = b, x
			}
		}
		home[v] = best
	}
	return home
}

func containsAll(sorted []int, values []int) bool {
	for _, v := range values {
		k := sort.SearchInts(sorted, v)
		if k == len(sorted) || sorted[k] != v {
			return false
		}
	}
	return true
}
