package clustering

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/modules/network"
	"github.com/aristath/marketgraph/internal/provenance"
)

const (
	defaultMaxClusters = 10
	defaultClusters    = 2
)

// DBHTResult is the output of a DBHT oracle.
type DBHTResult struct {
	Tree *Tree
	// Partition labels every asset with its DBHT cluster, starting at 1.
	Partition []int
	// Bubbles lists the vertex sets of the bubble tree.
	Bubbles [][]int
}

// DBHTOracle builds a Direct Bubble Hierarchical Tree on a planar filtered graph.
type DBHTOracle interface {
	Hierarchy(d, s *mat.SymDense, base network.FilterType) (*DBHTResult, error)
}

// Options configures a clustering run.
type Options struct {
	Method Method `json:"method" msgpack:"method"`
	// MaxClusters bounds the 2..MaxClusters sweep; it is capped at the asset count.
	MaxClusters int `json:"max_clusters" msgpack:"max_clusters"`
	// Clusters is the reference cluster count. DBHT replaces it with its own count.
	Clusters int `json:"clusters" msgpack:"clusters"`
	// Comparisons are alternative partitions scored with the ARI at every k.
	Comparisons [][]int `json:"comparisons,omitempty" msgpack:"comparisons"`
}

// DefaultOptions returns complete linkage, two reference clusters and a sweep up to ten.
func DefaultOptions() Options {
	return Options{
		Method:      MethodComplete,
		MaxClusters: defaultMaxClusters,
		Clusters:    defaultClusters,
	}
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = MethodComplete
	}
	if o.MaxClusters == 0 {
		o.MaxClusters = defaultMaxClusters
	}
	if o.Clusters == 0 {
		o.Clusters = defaultClusters
	}
	return o
}

// Validate checks the options that do not depend on the data.
func (o Options) Validate() error {
	o = o.withDefaults()
	if err := o.Method.Validate(); err != nil {
		return err
	}
	if o.MaxClusters < 2 {
		return fmt.Errorf("%w: max clusters must be at least 2, got %d", domain.ErrInvalidConfiguration, o.MaxClusters)
	}
	if o.Clusters < 1 {
		return fmt.Errorf("%w: cluster count must be positive, got %d", domain.ErrInvalidConfiguration, o.Clusters)
	}
	return nil
}

// Result is a hierarchical clustering with its flat partitions.
type Result struct {
	Method    Method       `json:"method"`
	Tree      *Tree        `json:"tree"`
	Linkage   [][3]float64 `json:"linkage"`
	LeafOrder []int        `json:"leaf_order"`
	// NClusters is the reference count, either requested or found by DBHT.
	NClusters int `json:"n_clusters"`
	// Assignments maps k to the ordered cluster IDs for every k in 2..MaxClusters and
	// for NClusters.
	Assignments      map[int][]int `json:"assignments"`
	Reference        []int         `json:"reference"`
	ReferenceOrdered []int         `json:"reference_ordered"`
	// ARI[c][k-2] compares Comparisons[c] with the partition at k.
	ARI       [][]float64 `json:"ari,omitempty"`
	Threshold float64     `json:"threshold"`
	// DirectPartition is the flat DBHT partition; nil for standard linkage.
	DirectPartition []int             `json:"direct_partition,omitempty"`
	Bubbles         [][]int           `json:"bubbles,omitempty"`
	Provenance      provenance.Record `json:"provenance"`
}

// Engine runs the clustering stage.
type Engine struct {
	log  zerolog.Logger
	dbht DBHTOracle
}

// NewEngine creates an engine. dbht may be nil when no DBHT method is used.
func NewEngine(log zerolog.Logger, dbht DBHTOracle) *Engine {
	return &Engine{
		log:  log.With().Str("component", "cluster_engine").Logger(),
		dbht: dbht,
	}
}

// Cluster builds the tree for d (and s for DBHT), orders its leaves and cuts it at
// every resolution.
func (e *Engine) Cluster(d, s *mat.SymDense, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: distance matrix is required", domain.ErrInvalidConfiguration)
	}
	p := d.SymmetricDim()
	if p < 2 {
		return nil, fmt.Errorf("%w: need at least 2 assets, got %d", domain.ErrDegenerateInput, p)
	}
	if opts.Clusters > p {
		return nil, fmt.Errorf("%w: %d clusters requested for %d assets", domain.ErrInvalidConfiguration, opts.Clusters, p)
	}
	for c, part := range opts.Comparisons {
		if len(part) != p {
			return nil, fmt.Errorf("%w: comparison partition %d has %d labels for %d assets",
				domain.ErrDimensionMismatch, c, len(part), p)
		}
	}

	res := &Result{Method: opts.Method, NClusters: opts.Clusters}
	if opts.Method.IsDBHT() {
		if e.dbht == nil {
			return nil, fmt.Errorf("%w: %s requested without a DBHT oracle", domain.ErrInvalidConfiguration, opts.Method)
		}
		if s == nil || s.SymmetricDim() != p {
			return nil, fmt.Errorf("%w: DBHT needs a %dx%d similarity matrix", domain.ErrDimensionMismatch, p, p)
		}
		base := network.FilterPMFG
		if opts.Method == MethodDBHTTMFG {
			base = network.FilterTMFG
		}
		out, err := e.dbht.Hierarchy(d, s, base)
		if err != nil {
			return nil, fmt.Errorf("failed to build DBHT: %w", err)
		}
		res.Tree = out.Tree
		res.DirectPartition = out.Partition
		res.Bubbles = out.Bubbles
		res.NClusters = countLabels(out.Partition)
	} else {
		tree, err := Linkage(d, opts.Method)
		if err != nil {
			return nil, err
		}
		res.Tree = tree
	}

	order, err := OptimalLeafOrder(res.Tree, d)
	if err != nil {
		return nil, fmt.Errorf("failed to order leaves: %w", err)
	}
	res.LeafOrder = order
	res.Linkage = res.Tree.Rows()

	maxK := min(opts.MaxClusters, p)
	res.Assignments = make(map[int][]int, maxK)
	flat := make(map[int][]int, maxK)
	for k := 2; k <= maxK; k++ {
		flat[k] = CutTree(res.Tree, k)
		if res.Assignments[k], err = OrderedIDs(flat[k], order); err != nil {
			return nil, err
		}
	}

	res.Reference = CutTree(res.Tree, res.NClusters)
	if res.ReferenceOrdered, err = OrderedIDs(res.Reference, order); err != nil {
		return nil, err
	}
	res.Assignments[res.NClusters] = res.ReferenceOrdered
	res.Threshold = Threshold(res.Tree, res.NClusters)

	if len(opts.Comparisons) > 0 {
		res.ARI = make([][]float64, len(opts.Comparisons))
		for c, part := range opts.Comparisons {
			row := make([]float64, 0, max(0, maxK-1))
			for k := 2; k <= maxK; k++ {
				ari, err := AdjustedRandIndex(part, flat[k])
				if err != nil {
					return nil, err
				}
				row = append(row, ari)
			}
			res.ARI[c] = row
		}
	}

	if res.Provenance, err = provenance.New("clustering", opts, d); err != nil {
		return nil, err
	}

	e.log.Debug().
		Str("method", string(opts.Method)).
		Int("assets", p).
		Int("clusters", res.NClusters).
		Float64("threshold", res.Threshold).
		Bool("monotonic", res.Tree.Monotonic()).
		Float64("leaf_order_cost", OrderCost(order, d)).
		Msg("Clustered assets")

	return res, nil
}

func countLabels(labels []int) int {
	seen := make(map[int]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}
