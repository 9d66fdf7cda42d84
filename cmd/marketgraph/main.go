// Package main is the marketgraph command line tool. It reads a CSV of asset returns and
// prints correlation networks, hierarchical clusters, rolling-window series or bootstrap
// stability tables.
//
// Usage:
//
//	marketgraph <estimate|network|cluster|rolling|bootstrap> -input returns.csv [flags]
//
// Defaults for every stage come from MARKETGRAPH_* environment variables (or a .env file);
// flags override them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/marketgraph/internal/config"
	"github.com/aristath/marketgraph/internal/dataset"
	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/modules/clustering/dbht"
	"github.com/aristath/marketgraph/internal/modules/dynamics"
	"github.com/aristath/marketgraph/internal/modules/estimation"
	"github.com/aristath/marketgraph/internal/modules/network"
	"github.com/aristath/marketgraph/internal/progress"
	"github.com/aristath/marketgraph/internal/report"
	"github.com/aristath/marketgraph/internal/utils"
	"github.com/aristath/marketgraph/pkg/logger"
)

const usage = `usage: marketgraph <command> -input returns.csv [flags]

commands:
  estimate   correlation summary
  network    filtered network and centralities
  cluster    hierarchical clustering
  rolling    pipeline over trailing windows
  bootstrap  pipeline over resampled histories
`

var errUsage = errors.New("usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], cfg, log, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// command holds the parsed flags shared by every subcommand.
type command struct {
	name    string
	input   string
	outPath string
	mode    string
}

func parse(args []string, cfg *config.Config) (*command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	cmd := &command{name: args[0]}

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.StringVar(&cmd.input, "input", "", "returns CSV: a date column followed by one column per asset")
	fs.StringVar(&cmd.outPath, "out", "", "also write the full result to this file as msgpack")
	fs.StringVar(&cmd.mode, "mode", string(dynamics.ModeNetwork), "rolling and bootstrap stage: network or cluster")
	fs.Float64Var(&cfg.Alpha, "alpha", cfg.Alpha, "exponential decay of the observation weights")
	fs.BoolVar(&cfg.Standardize, "standardize", cfg.Standardize, "standardize each asset before estimation")
	fs.BoolVar(&cfg.RemoveMarketMode, "remove-market-mode", cfg.RemoveMarketMode, "regress out the market mode")
	fs.StringVar(&cfg.Shrinkage, "shrinkage", cfg.Shrinkage, "covariance shrinkage: none or qis")
	fs.StringVar(&cfg.Distance, "distance", cfg.Distance, "distance method")
	fs.StringVar(&cfg.Filter, "filter", cfg.Filter, "network filter: MST, PMFG or TMFG")
	fs.StringVar(&cfg.WeightType, "weights", cfg.WeightType, "centrality edge weights: distance or similarity")
	fs.StringVar(&cfg.Linkage, "linkage", cfg.Linkage, "clustering method")
	fs.IntVar(&cfg.MaxClusters, "max-clusters", cfg.MaxClusters, "largest k in the cluster sweep")
	fs.IntVar(&cfg.Clusters, "k", cfg.Clusters, "reference number of clusters")
	fs.IntVar(&cfg.Window, "window", cfg.Window, "rolling window length")
	fs.IntVar(&cfg.Step, "step", cfg.Step, "rolling window step")
	fs.IntVar(&cfg.NSim, "nsim", cfg.NSim, "bootstrap samples")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "bootstrap seed")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent windows or samples")
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if cmd.input == "" {
		return nil, fmt.Errorf("%w: -input is required", errUsage)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func run(ctx context.Context, args []string, cfg *config.Config, log zerolog.Logger, out io.Writer) error {
	cmd, err := parse(args, cfg)
	if err != nil {
		return err
	}
	defer utils.OperationTimer(cmd.name, log)()

	f, err := os.Open(cmd.input)
	if err != nil {
		return fmt.Errorf("failed to open returns: %w", err)
	}
	defer f.Close()

	data, err := dataset.ReadCSV(f)
	if err != nil {
		return err
	}
	names := report.Names(data.Assets)
	log.Info().
		Str("command", cmd.name).
		Int("observations", len(data.Dates)).
		Int("assets", len(data.Assets)).
		Msg("Loaded returns")

	oracle := dbht.New()
	emitter := progress.NewLogEmitter(log)

	var result any
	switch cmd.name {
	case "estimate":
		bundle, err := estimation.NewEstimator(cfg.Estimation(), log).Estimate(data.Matrix)
		if err != nil {
			return err
		}
		result = bundle.Summary
		err = report.Summary(out, bundle.Summary)
		if err != nil {
			return err
		}

	case "network":
		bundle, err := estimation.NewEstimator(cfg.Estimation(), log).Estimate(data.Matrix)
		if err != nil {
			return err
		}
		net, err := network.Filter(bundle.Distance, bundle.Similarity, cfg.FilterOptions())
		if err != nil {
			return err
		}
		metrics, err := network.ComputeMetrics(net, network.WeightType(cfg.WeightType))
		if err != nil {
			return err
		}
		result = dynamics.Snapshot{Network: net, Metrics: metrics, Summary: bundle.Summary}
		if err := report.Network(out, names, net, metrics); err != nil {
			return err
		}

	case "cluster":
		bundle, err := estimation.NewEstimator(cfg.Estimation(), log).Estimate(data.Matrix)
		if err != nil {
			return err
		}
		res, err := clustering.NewEngine(log, oracle).Cluster(bundle.Distance, bundle.Similarity, cfg.Clustering())
		if err != nil {
			return err
		}
		result = res
		if err := report.Clusters(out, names, res); err != nil {
			return err
		}

	case "rolling":
		res, err := dynamics.NewRollingDriver(log, oracle, emitter).
			Run(ctx, data.Matrix, data.Dates, cfg.Rolling(dynamics.Mode(cmd.mode)))
		if err != nil {
			return err
		}
		result = res
		if err := report.Rolling(out, res); err != nil {
			return err
		}

	case "bootstrap":
		res, err := dynamics.NewBootstrapDriver(log, oracle, emitter).
			Run(ctx, data.Matrix, cfg.Bootstrap(dynamics.Mode(cmd.mode)))
		if err != nil {
			return err
		}
		result = res
		if err := report.Bootstrap(out, names, res); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd.name)
	}

	if cmd.outPath != "" {
		return writeResult(cmd.outPath, result)
	}
	return nil
}

// writeResult encodes v with its json field names. msgpack keeps the NaN values that
// mark undefined statistics.
func writeResult(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := msgpack.NewEncoder(f)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
