package network

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// face is a triangle of the growing planar graph, vertices ascending.
type face [3]int

// triangulatedFilter builds a TMFG: it starts from the tetrahedron of the four strongest
// vertices and repeatedly inserts the outside vertex with the largest similarity gain
// into its best triangular face. Ties go to the lowest vertex, then the oldest face.
func triangulatedFilter(p int, s, d *mat.SymDense) []candidate {
	edge := func(i, j int) candidate {
		if i > j {
			i, j = j, i
		}
		return candidate{i: i, j: j, d: d.At(i, j), s: s.At(i, j)}
	}

	if p < 4 {
		kept := make([]candidate, 0, p*(p-1)/2)
		for i := 0; i < p; i++ {
			for j := i + 1; j < p; j++ {
				kept = append(kept, edge(i, j))
			}
		}
		return kept
	}

	seeds := strongestVertices(s, 4)
	kept := make([]candidate, 0, maxPlanarEdges(p))
	for a := 0; a < 4; a++ {
		for b := a + 1; b < 4; b++ {
			kept = append(kept, edge(seeds[a], seeds[b]))
		}
	}
	faces := []face{
		sortedFace(seeds[0], seeds[1], seeds[2]),
		sortedFace(seeds[0], seeds[1], seeds[3]),
		sortedFace(seeds[0], seeds[2], seeds[3]),
		sortedFace(seeds[1], seeds[2], seeds[3]),
	}

	inserted := make([]bool, p)
	for _, v := range seeds {
		inserted[v] = true
	}

	gain := func(v int, f face) float64 {
		return s.At(v, f[0]) + s.At(v, f[1]) + s.At(v, f[2])
	}

	for remaining := p - 4; remaining > 0; remaining-- {
		bestV, bestF := -1, -1
		bestGain := 0.0
		for v := 0; v < p; v++ {
			if inserted[v] {
				continue
			}
			for fi, f := range faces {
				g := gain(v, f)
				if bestV < 0 || g > bestGain {
					bestV, bestF, bestGain = v, fi, g
				}
			}
		}

		f := faces[bestF]
		inserted[bestV] = true
		kept = append(kept, edge(bestV, f[0]), edge(bestV, f[1]), edge(bestV, f[2]))
		faces[bestF] = sortedFace(f[0], f[1], bestV)
		faces = append(faces, sortedFace(f[1], f[2], bestV), sortedFace(f[0], f[2], bestV))
	}
	return kept
}

// strongestVertices returns the k vertices with the largest total similarity,
// ties broken by index.
func strongestVertices(s mat.Symmetric, k int) []int {
	p := s.SymmetricDim()
	strength := make([]float64, p)
	idx := make([]int, p)
	for i := 0; i < p; i++ {
		idx[i] = i
		for j := 0; j < p; j++ {
			if i != j {
				strength[i] += s.At(i, j)
			}
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return strength[idx[a]] > strength[idx[b]] })
	return idx[:k]
}

func sortedFace(a, b, c int) face {
	f := face{a, b, c}
	sort.Ints(f[:])
	return f
}
