package clustering

import (
	"fmt"

	"github.com/aristath/marketgraph/internal/domain"
)

// AdjustedRandIndex measures agreement between two partitions of the same items,
// corrected for chance (Hubert and Arabie, 1985). Identical partitions score 1 and
// independent ones score about 0. Two trivial partitions (one cluster each, or all
// singletons) score 1.
func AdjustedRandIndex(a, b []int) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: partitions of %d and %d items", domain.ErrDimensionMismatch, len(a), len(b))
	}
	n := len(a)
	if n < 2 {
		return 1, nil
	}

	type cell struct{ x, y int }
	contingency := make(map[cell]int)
	rows := make(map[int]int)
	cols := make(map[int]int)
	for i := 0; i < n; i++ {
		contingency[cell{a[i], b[i]}]++
		rows[a[i]]++
		cols[b[i]]++
	}

	pairs := func(c int) float64 { return float64(c) * float64(c-1) / 2 }

	var index, sumRows, sumCols float64
	for _, c := range contingency {
		index += pairs(c)
	}
	for _, c := range rows {
		sumRows += pairs(c)
	}
	for _, c := range cols {
		sumCols += pairs(c)
	}

	expected := sumRows * sumCols / pairs(n)
	maxIndex := 0.5 * (sumRows + sumCols)
	if maxIndex == expected {
		return 1, nil
	}
	return (index - expected) / (maxIndex - expected), nil
}
