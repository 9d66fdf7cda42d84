// Package dataset loads return histories from CSV.
package dataset

import (
	"fmt"
	"io"
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
)

// Returns is an observations × assets return history.
type Returns struct {
	Dates  []string
	Assets []string
	Matrix *mat.Dense
}

// ReadCSV parses a CSV whose header is a date column followed by one column per asset,
// with one row of returns per date. Missing or non-numeric returns are rejected.
func ReadCSV(r io.Reader) (*Returns, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("failed to read returns: %w", df.Err)
	}
	return FromDataFrame(df)
}

// FromDataFrame converts a frame laid out like ReadCSV expects.
func FromDataFrame(df dataframe.DataFrame) (*Returns, error) {
	names := df.Names()
	if len(names) < 2 {
		return nil, fmt.Errorf("%w: need a date column and at least one asset, got %d columns",
			domain.ErrDegenerateInput, len(names))
	}
	n, p := df.Nrow(), len(names)-1
	if n == 0 {
		return nil, fmt.Errorf("%w: no observations", domain.ErrDegenerateInput)
	}

	out := &Returns{
		Dates:  df.Col(names[0]).Records(),
		Assets: append([]string(nil), names[1:]...),
		Matrix: mat.NewDense(n, p, nil),
	}
	for j, name := range out.Assets {
		for i, v := range df.Col(name).Float() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: invalid return for %s on %s", domain.ErrDegenerateInput, name, out.Dates[i])
			}
			out.Matrix.Set(i, j, v)
		}
	}
	return out, nil
}
