package dbht

import (
	"sort"

	"github.com/aristath/marketgraph/internal/modules/clustering"
)

const (
	levelBubble = iota
	levelCluster
	levelTop
)

// pendingMerge is a merge between provisional node ids; leaves keep their asset index,
// merge k gets n+k.
type pendingMerge struct {
	a, b   int
	height float64
	level  int
	size   int
}

type hierarchyBuilder struct {
	n      int
	sp     [][]float64
	leaves [][]int // leaves per provisional node
	merges []pendingMerge
}

// buildHierarchy nests complete linkage on shortest-path distances: vertices within each
// home bubble of a cluster, then the bubble groups of each cluster, then the clusters.
// Heights come straight from the distances and can decrease between levels.
func buildHierarchy(n int, sp [][]float64, cluster, home []int) *clustering.Tree {
	hb := &hierarchyBuilder{n: n, sp: sp, leaves: make([][]int, n)}
	for v := 0; v < n; v++ {
		hb.leaves[v] = []int{v}
	}

	nClusters := 0
	for _, c := range cluster {
		nClusters = max(nClusters, c+1)
	}

	clusterNodes := make([]int, 0, nClusters)
	for c := 0; c < nClusters; c++ {
		groups := make(map[int][]int)
		var bubbleOrder []int
		for v := 0; v < n; v++ {
			if cluster[v] != c {
				continue
			}
			if _, ok := groups[home[v]]; !ok {
				bubbleOrder = append(bubbleOrder, home[v])
			}
			groups[home[v]] = append(groups[home[v]], v)
		}
		sort.Ints(bubbleOrder)

		groupNodes := make([]int, 0, len(bubbleOrder))
		for _, b := range bubbleOrder {
			groupNodes = append(groupNodes, hb.agglomerate(groups[b], levelBubble))
		}
		clusterNodes = append(clusterNodes, hb.agglomerate(groupNodes, levelCluster))
	}
	hb.agglomerate(clusterNodes, levelTop)

	return hb.tree()
}

// agglomerate merges nodes by complete linkage until one remains and returns it.
func (hb *hierarchyBuilder) agglomerate(nodes []int, level int) int {
	active := append([]int(nil), nodes...)
	for len(active) > 1 {
		bi, bj := 0, 1
		best := hb.completeDistance(active[0], active[1])
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				if d := hb.completeDistance(active[i], active[j]); d < best {
					bi, bj, best = i, j, d
				}
			}
		}
		merged := hb.merge(active[bi], active[bj], best, level)
		active[bi] = merged
		active = append(active[:bj], active[bj+1:]...)
	}
	return active[0]
}

func (hb *hierarchyBuilder) completeDistance(x, y int) float64 {
	d := 0.0
	for _, i := range hb.leaves[x] {
		for _, j := range hb.leaves[y] {
			d = max(d, hb.sp[i][j])
		}
	}
	return d
}

func (hb *hierarchyBuilder) merge(x, y int, height float64, level int) int {
	leaves := append(append([]int(nil), hb.leaves[x]...), hb.leaves[y]...)
	hb.leaves = append(hb.leaves, leaves)
	hb.merges = append(hb.merges, pendingMerge{a: x, b: y, height: height, level: level, size: len(leaves)})
	return hb.n + len(hb.merges) - 1
}

// tree emits the merges level by level, by height within a level, and renumbers the
// internal nodes to match. Complete linkage is monotone inside a level, so children
// always precede their parent.
func (hb *hierarchyBuilder) tree() *clustering.Tree {
	order := make([]int, len(hb.merges))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma, mb := hb.merges[order[a]], hb.merges[order[b]]
		if ma.level != mb.level {
			return ma.level < mb.level
		}
		return ma.height < mb.height
	})

	final := make([]int, hb.n+len(hb.merges))
	for v := 0; v < hb.n; v++ {
		final[v] = v
	}
	t := &clustering.Tree{N: hb.n, Merges: make([]clustering.Merge, 0, len(hb.merges))}
	for row, k := range order {
		m := hb.merges[k]
		final[hb.n+k] = hb.n + row
		a, b := final[m.a], final[m.b]
		if b < a {
			a, b = b, a
		}
		t.Merges = append(t.Merges, clustering.Merge{A: a, B: b, Height: m.height, Size: m.size})
	}
	return t
}
