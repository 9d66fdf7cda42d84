package clustering

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/marketgraph/internal/domain"
)

// thresholdEpsilon places the single-cluster threshold just below the lowest merge.
const thresholdEpsilon = 1e-12

// CutTree returns a flat partition with k clusters by applying the first N-k merges.
// Labels start at 1 and are numbered by first appearance in asset order. k is clamped
// to [1, N].
func CutTree(tree *Tree, k int) []int {
	n := tree.N
	k = max(1, min(k, n))

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	// rep[id] is a leaf inside node id.
	rep := make([]int, n+len(tree.Merges))
	for i := 0; i < n; i++ {
		rep[i] = i
	}
	for idx, m := range tree.Merges {
		rep[n+idx] = rep[m.A]
		if idx >= n-k {
			continue
		}
		ra, rb := find(rep[m.A]), find(rep[m.B])
		if ra != rb {
			parent[rb] = ra
		}
	}

	labels := make([]int, n)
	seen := make(map[int]int, k)
	for i := 0; i < n; i++ {
		root := find(i)
		id, ok := seen[root]
		if !ok {
			id = len(seen) + 1
			seen[root] = id
		}
		labels[i] = id
	}
	return labels
}

// OrderedIDs renumbers labels along leafOrder: the first leaf gets 1 and the ID grows by
// one each time the label changes. The result is indexed by asset.
func OrderedIDs(labels, leafOrder []int) ([]int, error) {
	if len(labels) != len(leafOrder) {
		return nil, fmt.Errorf("%w: %d labels for %d leaves", domain.ErrDimensionMismatch, len(labels), len(leafOrder))
	}
	out := make([]int, len(labels))
	id := 0
	prev := 0
	for k, leaf := range leafOrder {
		if leaf < 0 || leaf >= len(labels) {
			return nil, fmt.Errorf("%w: leaf %d out of range", domain.ErrInvalidConfiguration, leaf)
		}
		if k == 0 || labels[leaf] != prev {
			id++
			prev = labels[leaf]
		}
		out[leaf] = id
	}
	return out, nil
}

// Threshold returns the dendrogram height that separates k groups: the (N+1-k)-th
// smallest merge height. For k <= 1 it is just below the lowest merge.
func Threshold(tree *Tree, k int) float64 {
	heights := tree.Heights()
	if len(heights) == 0 {
		return math.NaN()
	}
	sort.Float64s(heights)
	if k <= 1 {
		return heights[0] - thresholdEpsilon
	}
	idx := len(heights) + 1 - k
	idx = max(0, min(idx, len(heights)-1))
	return heights[idx]
}
