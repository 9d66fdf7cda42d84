package network

import (
	"math"

	"github.com/aristath/marketgraph/pkg/formulas"
)

// Hybrid is the Pozzi, Di Matteo and Aste peripherality score. Low values mark central
// nodes.
type Hybrid struct {
	// X ranks degree and betweenness, both unweighted and weighted.
	X []float64 `json:"x"`
	// Y ranks eccentricity, closeness and eigenvector centrality, both unweighted and weighted.
	Y   []float64 `json:"y"`
	XpY []float64 `json:"xpy"`
	XmY []float64 `json:"xmy"`
}

// HybridCentrality combines tied ranks (largest value ranked 1) of the ten centralities
// into X = (Σrank - 4) / (4(p-1)) and Y = (Σrank - 6) / (6(p-1)).
// Every score is NaN when any input measure is NaN, as on a disconnected network.
func HybridCentrality(m *Metrics) Hybrid {
	p := m.Nodes
	xMetrics := [][]float64{
		m.Unweighted.Degree,
		m.Weighted.Degree,
		m.Unweighted.Betweenness,
		m.Weighted.Betweenness,
	}
	yMetrics := [][]float64{
		m.Unweighted.Eccentricity,
		m.Weighted.Eccentricity,
		m.Unweighted.Closeness,
		m.Weighted.Closeness,
		m.Unweighted.Eigenvector,
		m.Weighted.Eigenvector,
	}

	h := Hybrid{
		X:   rankScore(xMetrics, p),
		Y:   rankScore(yMetrics, p),
		XpY: make([]float64, p),
		XmY: make([]float64, p),
	}
	for i := 0; i < p; i++ {
		h.XpY[i] = h.X[i] + h.Y[i]
		h.XmY[i] = h.X[i] - h.Y[i]
	}
	return h
}

func rankScore(metrics [][]float64, p int) []float64 {
	out := make([]float64, p)
	if p < 2 {
		return out
	}
	// ranks are undefined once any node has a NaN measure
	for _, values := range metrics {
		for _, v := range values {
			if math.IsNaN(v) {
				for i := range out {
					out[i] = math.NaN()
				}
				return out
			}
		}
	}
	for _, values := range metrics {
		for i, r := range formulas.TiedRank(values, true) {
			out[i] += r
		}
	}
	k := float64(len(metrics))
	for i := range out {
		out[i] = (out[i] - k) / (k * float64(p-1))
	}
	return out
}
