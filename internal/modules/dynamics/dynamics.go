// Package dynamics re-runs the estimation, network and clustering stages over rolling
// windows and bootstrap resamples of a return history.
package dynamics

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/modules/estimation"
	"github.com/aristath/marketgraph/internal/modules/network"
)

// Mode selects what is computed for each window or resample.
type Mode string

const (
	// ModeNetwork filters the correlation network and computes its metrics.
	ModeNetwork Mode = "network"
	// ModeCluster runs the cluster engine.
	ModeCluster Mode = "cluster"
)

// Validate reports whether the mode is supported.
func (m Mode) Validate() error {
	switch m {
	case ModeNetwork, ModeCluster:
		return nil
	default:
		return fmt.Errorf("%w: unsupported mode %q", domain.ErrInvalidConfiguration, m)
	}
}

// PipelineOptions configures the stages run on every slice of data.
type PipelineOptions struct {
	Mode       Mode                  `json:"mode" msgpack:"mode"`
	Estimation estimation.Options    `json:"estimation" msgpack:"estimation"`
	Filter     network.FilterOptions `json:"filter" msgpack:"filter"`
	WeightType network.WeightType    `json:"weight_type" msgpack:"weight_type"`
	Clustering clustering.Options    `json:"clustering" msgpack:"clustering"`
	// Workers bounds concurrent iterations; 1 or less runs sequentially.
	Workers int `json:"workers" msgpack:"-"`
}

// DefaultPipelineOptions returns an MST network run with distance weights.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Mode:       ModeNetwork,
		Estimation: estimation.DefaultOptions(),
		Filter:     network.DefaultFilterOptions(),
		WeightType: network.WeightDistance,
		Clustering: clustering.DefaultOptions(),
		Workers:    1,
	}
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.Mode == "" {
		o.Mode = ModeNetwork
	}
	if o.Filter.Type == "" {
		o.Filter.Type = network.FilterMST
	}
	if o.WeightType == "" {
		o.WeightType = network.WeightDistance
	}
	return o
}

// Validate checks every stage's options.
func (o PipelineOptions) Validate() error {
	o = o.withDefaults()
	if err := o.Mode.Validate(); err != nil {
		return err
	}
	if err := o.Estimation.Validate(); err != nil {
		return err
	}
	switch o.Mode {
	case ModeNetwork:
		if o.WeightType != network.WeightDistance && o.WeightType != network.WeightSimilarity {
			return fmt.Errorf("%w: unsupported weight type %q", domain.ErrInvalidConfiguration, o.WeightType)
		}
		return o.Filter.Validate()
	default:
		return o.Clustering.Validate()
	}
}

// Snapshot is the pipeline output for one slice of data.
type Snapshot struct {
	Bundle   *estimation.Bundle            `json:"-"`
	Network  *network.Network              `json:"network,omitempty"`
	Metrics  *network.Metrics              `json:"metrics,omitempty"`
	Clusters *clustering.Result            `json:"clusters,omitempty"`
	Summary  estimation.CorrelationSummary `json:"summary"`
}

// pipeline runs the stages for one slice; it is shared by the drivers and is safe for
// concurrent use.
type pipeline struct {
	opts      PipelineOptions
	estimator *estimation.Estimator
	engine    *clustering.Engine
}

func newPipeline(opts PipelineOptions, log zerolog.Logger, dbht clustering.DBHTOracle) *pipeline {
	return &pipeline{
		opts:      opts,
		estimator: estimation.NewEstimator(opts.Estimation, log),
		engine:    clustering.NewEngine(log, dbht),
	}
}

func (p *pipeline) run(returns mat.Matrix) (*Snapshot, error) {
	bundle, err := p.estimator.Estimate(returns)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Bundle: bundle, Summary: bundle.Summary}

	switch p.opts.Mode {
	case ModeNetwork:
		if snap.Network, err = network.Filter(bundle.Distance, bundle.Similarity, p.opts.Filter); err != nil {
			return nil, err
		}
		if snap.Metrics, err = network.ComputeMetrics(snap.Network, p.opts.WeightType); err != nil {
			return nil, err
		}
	case ModeCluster:
		if snap.Clusters, err = p.engine.Cluster(bundle.Distance, bundle.Similarity, p.opts.Clustering); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// forEach calls fn for 0..n-1 on at most workers goroutines and stops at the first
// error or when ctx is cancelled. Each call must only write its own index.
func forEach(parent context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(parent)
	g.SetLimit(max(1, workers))
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return parent.Err()
}
