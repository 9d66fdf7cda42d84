// Package clustering builds hierarchical clusterings of assets from a distance matrix,
// orders their leaves and extracts flat partitions at several resolutions.
package clustering

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
)

// Method is a linkage criterion.
type Method string

const (
	MethodSingle   Method = "single"
	MethodComplete Method = "complete"
	MethodAverage  Method = "average"
	MethodWeighted Method = "weighted"
	MethodWard     Method = "ward"
	MethodCentroid Method = "centroid"
	MethodMedian   Method = "median"
	// MethodDBHTPMFG and MethodDBHTTMFG delegate to the DBHT oracle on a PMFG or TMFG.
	MethodDBHTPMFG Method = "DBHT_PMFG"
	MethodDBHTTMFG Method = "DBHT_TMFG"
)

// IsDBHT reports whether the method is a DBHT variant.
func (m Method) IsDBHT() bool {
	return m == MethodDBHTPMFG || m == MethodDBHTTMFG
}

// Validate reports whether the method is supported.
func (m Method) Validate() error {
	switch m {
	case MethodSingle, MethodComplete, MethodAverage, MethodWeighted,
		MethodWard, MethodCentroid, MethodMedian, MethodDBHTPMFG, MethodDBHTTMFG:
		return nil
	default:
		return fmt.Errorf("%w: unsupported linkage method %q", domain.ErrInvalidConfiguration, m)
	}
}

// Merge joins nodes A < B at Height. Leaves are 0..N-1; the node created by merge k is N+k.
type Merge struct {
	A      int     `json:"a"`
	B      int     `json:"b"`
	Height float64 `json:"height"`
	Size   int     `json:"size"`
}

// Tree is a binary merge tree over N leaves with N-1 merges.
type Tree struct {
	N      int     `json:"n"`
	Merges []Merge `json:"merges"`
}

// Rows returns the tree as {a, b, height} rows.
func (t *Tree) Rows() [][3]float64 {
	rows := make([][3]float64, len(t.Merges))
	for k, m := range t.Merges {
		rows[k] = [3]float64{float64(m.A), float64(m.B), m.Height}
	}
	return rows
}

// Heights returns the merge heights in row order.
func (t *Tree) Heights() []float64 {
	h := make([]float64, len(t.Merges))
	for k, m := range t.Merges {
		h[k] = m.Height
	}
	return h
}

// Root returns the id of the root node.
func (t *Tree) Root() int {
	if len(t.Merges) == 0 {
		return 0
	}
	return t.N + len(t.Merges) - 1
}

// Monotonic reports whether every merge is at least as high as its children.
func (t *Tree) Monotonic() bool {
	for _, m := range t.Merges {
		for _, c := range []int{m.A, m.B} {
			if c >= t.N && t.Merges[c-t.N].Height > m.Height {
				return false
			}
		}
	}
	return true
}

// Leaves returns the leaves under node id, left subtree first.
func (t *Tree) Leaves(id int) []int {
	out := make([]int, 0, 1)
	stack := []int{id}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v < t.N {
			out = append(out, v)
			continue
		}
		m := t.Merges[v-t.N]
		stack = append(stack, m.B, m.A)
	}
	return out
}

// Order is the natural dendrogram leaf order.
func (t *Tree) Order() []int {
	if t.N == 0 {
		return nil
	}
	return t.Leaves(t.Root())
}

// Validate checks that the tree is a single binary tree over N leaves.
func (t *Tree) Validate() error {
	if t.N < 1 {
		return fmt.Errorf("%w: tree has no leaves", domain.ErrDegenerateInput)
	}
	if len(t.Merges) != t.N-1 {
		return fmt.Errorf("%w: %d merges for %d leaves", domain.ErrDimensionMismatch, len(t.Merges), t.N)
	}
	used := make([]bool, 2*t.N-1)
	for k, m := range t.Merges {
		for _, c := range []int{m.A, m.B} {
			if c < 0 || c >= t.N+k {
				return fmt.Errorf("%w: merge %d references node %d before it exists", domain.ErrInvalidConfiguration, k, c)
			}
			if used[c] {
				return fmt.Errorf("%w: node %d merged twice", domain.ErrInvalidConfiguration, c)
			}
			used[c] = true
		}
	}
	return nil
}

// appendMerge records a merge of nodes a and b and returns the new node id.
func (t *Tree) appendMerge(a, b int, height float64, size int) int {
	if b < a {
		a, b = b, a
	}
	t.Merges = append(t.Merges, Merge{A: a, B: b, Height: height, Size: size})
	return t.N + len(t.Merges) - 1
}

// Linkage runs agglomerative clustering with the Lance-Williams update for method.
// Ties between equally distant pairs go to the pair with the smallest leaves.
func Linkage(dist mat.Symmetric, method Method) (*Tree, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}
	if method.IsDBHT() {
		return nil, fmt.Errorf("%w: %s needs the DBHT oracle", domain.ErrInvalidConfiguration, method)
	}
	n := dist.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty distance matrix", domain.ErrDegenerateInput)
	}

	// Slot i holds the active cluster whose smallest leaf is i.
	dm := make([][]float64, n)
	for i := range dm {
		dm[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			v := dist.At(i, j)
			if math.IsNaN(v) || v < 0 {
				return nil, fmt.Errorf("%w: invalid distance %v between %d and %d", domain.ErrDegenerateInput, v, i, j)
			}
			dm[i][j] = v
		}
	}
	active := make([]bool, n)
	nodeID := make([]int, n)
	size := make([]int, n)
	for i := 0; i < n; i++ {
		active[i] = true
		nodeID[i] = i
		size[i] = 1
	}

	tree := &Tree{N: n, Merges: make([]Merge, 0, n-1)}
	for step := 0; step < n-1; step++ {
		bestI, bestJ := -1, -1
		bestD := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if bestI < 0 || dm[i][j] < bestD {
					bestI, bestJ, bestD = i, j, dm[i][j]
				}
			}
		}

		a, b := bestI, bestJ
		na, nb := float64(size[a]), float64(size[b])
		for k := 0; k < n; k++ {
			if !active[k] || k == a || k == b {
				continue
			}
			v := lanceWilliams(method, dm[a][k], dm[b][k], dm[a][b], na, nb, float64(size[k]))
			dm[a][k] = v
			dm[k][a] = v
		}

		nodeID[a] = tree.appendMerge(nodeID[a], nodeID[b], bestD, size[a]+size[b])
		size[a] += size[b]
		active[b] = false
	}
	return tree, nil
}

// lanceWilliams returns the distance from cluster k to the union of a and b.
func lanceWilliams(method Method, dak, dbk, dab, na, nb, nk float64) float64 {
	switch method {
	case MethodSingle:
		return math.Min(dak, dbk)
	case MethodComplete:
		return math.Max(dak, dbk)
	case MethodAverage:
		return (na*dak + nb*dbk) / (na + nb)
	case MethodWeighted:
		return 0.5 * (dak + dbk)
	case MethodWard:
		v := ((na+nk)*dak*dak + (nb+nk)*dbk*dbk - nk*dab*dab) / (na + nb + nk)
		return math.Sqrt(math.Max(v, 0))
	case MethodCentroid:
		s := na + nb
		v := (na*dak*dak+nb*dbk*dbk)/s - na*nb*dab*dab/(s*s)
		return math.Sqrt(math.Max(v, 0))
	case MethodMedian:
		v := 0.5*dak*dak + 0.5*dbk*dbk - 0.25*dab*dab
		return math.Sqrt(math.Max(v, 0))
	default:
		return math.NaN()
	}
}
