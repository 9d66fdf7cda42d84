package clustering

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
)

// OptimalLeafOrder returns the leaf order, among the 2^(N-1) orders consistent with the
// tree, that minimizes the summed distance between adjacent leaves
// (Bar-Joseph, Gifford and Jaakkola, 2001). It runs in O(N³) time and O(N²) memory.
func OptimalLeafOrder(tree *Tree, dist mat.Symmetric) ([]int, error) {
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	n := tree.N
	if dist.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: tree has %d leaves, distance matrix is %dx%d",
			domain.ErrDimensionMismatch, n, dist.SymmetricDim(), dist.SymmetricDim())
	}
	if n <= 2 {
		return tree.Order(), nil
	}

	// Every subtree occupies a contiguous range of the natural order.
	natural := tree.Order()
	pos := make([]int, n)
	for k, leaf := range natural {
		pos[leaf] = k
	}
	lo := make([]int, 2*n-1)
	hi := make([]int, 2*n-1)
	for leaf := 0; leaf < n; leaf++ {
		lo[leaf], hi[leaf] = pos[leaf], pos[leaf]+1
	}
	for k, m := range tree.Merges {
		id := n + k
		lo[id] = min(lo[m.A], lo[m.B])
		hi[id] = max(hi[m.A], hi[m.B])
	}
	contains := func(node, leaf int) bool {
		return pos[leaf] >= lo[node] && pos[leaf] < hi[node]
	}
	leavesOf := func(node int) []int { return natural[lo[node]:hi[node]] }

	// cost[u][w] is the best cost of laying out the subtree rooted at the lowest common
	// ancestor of u and w from u to w; split records the inner leaves at the join.
	cost := make([][]float64, n)
	splitM := make([][]int, n)
	splitK := make([][]int, n)
	for i := 0; i < n; i++ {
		cost[i] = make([]float64, n)
		splitM[i] = make([]int, n)
		splitK[i] = make([]int, n)
	}

	// inner returns the leaves of node adjacent to the join when the layout starts at u.
	inner := func(node, u int) []int {
		if node < n {
			return []int{node}
		}
		m := tree.Merges[node-n]
		if contains(m.A, u) {
			return leavesOf(m.B)
		}
		return leavesOf(m.A)
	}

	best := make([]float64, n)
	bestM := make([]int, n)
	for _, m := range tree.Merges {
		left, right := leavesOf(m.A), leavesOf(m.B)
		for _, u := range left {
			innerLeft := inner(m.A, u)
			for _, kk := range right {
				best[kk], bestM[kk] = math.Inf(1), innerLeft[0]
				for _, mm := range innerLeft {
					c := cost[u][mm] + dist.At(mm, kk)
					if c < best[kk] {
						best[kk], bestM[kk] = c, mm
					}
				}
			}
			for _, w := range right {
				innerRight := inner(m.B, w)
				c, ck := math.Inf(1), innerRight[0]
				for _, kk := range innerRight {
					if v := best[kk] + cost[kk][w]; v < c {
						c, ck = v, kk
					}
				}
				cost[u][w], cost[w][u] = c, c
				splitM[u][w], splitK[u][w] = bestM[ck], ck
				splitM[w][u], splitK[w][u] = ck, bestM[ck]
			}
		}
	}

	root := tree.Root()
	rm := tree.Merges[root-n]
	bestU, bestW := leavesOf(rm.A)[0], leavesOf(rm.B)[0]
	bestCost := cost[bestU][bestW]
	for _, u := range leavesOf(rm.A) {
		for _, w := range leavesOf(rm.B) {
			if cost[u][w] < bestCost {
				bestU, bestW, bestCost = u, w, cost[u][w]
			}
		}
	}

	order := make([]int, 0, n)
	var expand func(node, u, w int)
	expand = func(node, u, w int) {
		if node < n {
			order = append(order, node)
			return
		}
		m := tree.Merges[node-n]
		first, second := m.A, m.B
		if !contains(first, u) {
			first, second = second, first
		}
		mm, kk := splitM[u][w], splitK[u][w]
		expand(first, u, mm)
		expand(second, kk, w)
	}
	expand(root, bestU, bestW)
	return order, nil
}

// OrderCost is the summed distance between adjacent leaves of order.
func OrderCost(order []int, dist mat.Symmetric) float64 {
	c := 0.0
	for k := 1; k < len(order); k++ {
		c += dist.At(order[k-1], order[k])
	}
	return c
}
