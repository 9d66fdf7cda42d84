// Package report renders pipeline results as text tables.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/modules/dynamics"
	"github.com/aristath/marketgraph/internal/modules/estimation"
	"github.com/aristath/marketgraph/internal/modules/network"
)

// Names labels assets in the tables; missing entries fall back to the index.
type Names []string

func (n Names) label(i int) string {
	if i >= 0 && i < len(n) && n[i] != "" {
		return n[i]
	}
	return strconv.Itoa(i)
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s", title)
	return t
}

func render(w io.Writer, t table.Writer) error {
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// Summary writes the mean and quantiles of the off-diagonal correlations.
func Summary(w io.Writer, s estimation.CorrelationSummary) error {
	t := newTable("Correlation summary")
	t.AppendHeader(table.Row{"Statistic", "Value"})
	t.AppendRow(table.Row{"mean", num(s.Mean)})
	for i, p := range s.Probs {
		t.AppendRow(table.Row{fmt.Sprintf("q%g", p*100), num(s.Quantiles[i])})
	}
	return render(w, t)
}

// Network writes the filtered edges and the per-node centralities.
func Network(w io.Writer, names Names, net *network.Network, m *network.Metrics) error {
	edges := newTable(fmt.Sprintf("%s edges", net.Type))
	edges.AppendHeader(table.Row{"From", "To", "Distance", "Similarity"})
	for _, e := range net.Edges {
		edges.AppendRow(table.Row{names.label(e.I), names.label(e.J), num(e.Distance), num(e.Similarity)})
	}
	edges.AppendFooter(table.Row{"", "length", num(m.TreeLength), num(m.NormalizedTreeLength)})
	if err := render(w, edges); err != nil {
		return err
	}

	nodes := newTable("Centrality")
	nodes.AppendHeader(table.Row{"Asset", "Degree", "Betweenness", "Closeness", "Eigenvector", "X", "Y", "X+Y"})
	for _, v := range byPeripherality(m.Hybrid.XpY) {
		nodes.AppendRow(table.Row{
			names.label(v),
			m.Unweighted.Degree[v],
			num(m.Weighted.Betweenness[v]),
			num(m.Weighted.Closeness[v]),
			num(m.Weighted.Eigenvector[v]),
			num(m.Hybrid.X[v]),
			num(m.Hybrid.Y[v]),
			num(m.Hybrid.XpY[v]),
		})
	}
	return render(w, nodes)
}

// byPeripherality orders nodes from most central to most peripheral.
func byPeripherality(xpy []float64) []int {
	order := make([]int, len(xpy))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return xpy[order[a]] < xpy[order[b]] })
	return order
}

// Clusters writes the reference partition in dendrogram leaf order.
func Clusters(w io.Writer, names Names, res *clustering.Result) error {
	t := newTable(fmt.Sprintf("%s clusters (k=%d, threshold %s)", res.Method, res.NClusters, num(res.Threshold)))
	t.AppendHeader(table.Row{"Position", "Asset", "Cluster"})
	for pos, leaf := range res.LeafOrder {
		t.AppendRow(table.Row{pos + 1, names.label(leaf), res.ReferenceOrdered[leaf]})
	}
	if len(res.Bubbles) > 0 {
		t.AppendFooter(table.Row{"", "bubbles", len(res.Bubbles)})
	}
	return render(w, t)
}

// Rolling writes one line per window.
func Rolling(w io.Writer, res *dynamics.RollingResult) error {
	t := newTable("Rolling windows")
	t.AppendHeader(table.Row{"Date", "Start", "End", "Mean corr", "Edges", "Tree length", "Clusters"})
	for _, wr := range res.Windows {
		edges, length, clusters := "-", "-", "-"
		if wr.Network != nil {
			edges = strconv.Itoa(len(wr.Network.Edges))
		}
		if wr.Metrics != nil {
			length = num(wr.Metrics.NormalizedTreeLength)
		}
		if wr.Clusters != nil {
			clusters = strconv.Itoa(wr.Clusters.NClusters)
		}
		t.AppendRow(table.Row{wr.Date, wr.Start, wr.End, num(wr.Summary.Mean), edges, length, clusters})
	}
	return render(w, t)
}

// Bootstrap writes the resampling aggregates.
func Bootstrap(w io.Writer, names Names, res *dynamics.BootstrapResult) error {
	if res.FullPeriod.Clusters != nil {
		t := newTable(fmt.Sprintf("Bootstrap cluster counts (%d samples)", len(res.ClusterCounts)))
		t.AppendHeader(table.Row{"Full period", "Mean", "Std"})
		t.AppendRow(table.Row{res.FullPeriod.Clusters.NClusters, num(res.CountMean), num(res.CountStd)})
		return render(w, t)
	}

	edges := newTable(fmt.Sprintf("Edge survival (%d samples)", len(res.Samples)))
	edges.AppendHeader(table.Row{"From", "To", "Fraction"})
	for _, e := range res.EdgeSurvival {
		edges.AppendRow(table.Row{names.label(e.I), names.label(e.J), num(e.Fraction)})
	}
	if err := render(w, edges); err != nil {
		return err
	}

	nodes := newTable("Hybrid centrality")
	nodes.AppendHeader(table.Row{"Asset", "Full period", "Mean", "Std"})
	for _, v := range byPeripherality(res.FullPeriod.Metrics.Hybrid.XpY) {
		nodes.AppendRow(table.Row{names.label(v), num(res.FullPeriod.Metrics.Hybrid.XpY[v]), num(res.XpYMean[v]), num(res.XpYStd[v])})
	}
	return render(w, nodes)
}
