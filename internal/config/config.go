// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/modules/dynamics"
	"github.com/aristath/marketgraph/internal/modules/estimation"
	"github.com/aristath/marketgraph/internal/modules/network"
)

const envPrefix = "MARKETGRAPH_"

// Config holds application configuration
type Config struct {
	LogLevel  string
	LogPretty bool

	// Estimation
	Alpha            float64
	Standardize      bool
	RemoveMarketMode bool
	Shrinkage        string
	Distance         string

	// Network and clustering
	Filter      string
	WeightType  string
	Linkage     string
	MaxClusters int
	Clusters    int

	// Drivers
	Window  int
	Step    int
	NSim    int
	Seed    uint64
	Workers int
}

// Load reads configuration from a .env file, if present, and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvAsBool("LOG_PRETTY", false),
		Alpha:            getEnvAsFloat("ALPHA", 0),
		Standardize:      getEnvAsBool("STANDARDIZE", false),
		RemoveMarketMode: getEnvAsBool("REMOVE_MARKET_MODE", false),
		Shrinkage:        getEnv("SHRINKAGE", string(estimation.ShrinkageNone)),
		Distance:         getEnv("DISTANCE", string(estimation.DistanceCorrelation)),
		Filter:           getEnv("FILTER", string(network.FilterMST)),
		WeightType:       getEnv("WEIGHT_TYPE", string(network.WeightDistance)),
		Linkage:          getEnv("LINKAGE", string(clustering.MethodComplete)),
		MaxClusters:      getEnvAsInt("MAX_CLUSTERS", 10),
		Clusters:         getEnvAsInt("CLUSTERS", 2),
		Window:           getEnvAsInt("WINDOW", 250),
		Step:             getEnvAsInt("STEP", 20),
		NSim:             getEnvAsInt("NSIM", 100),
		Seed:             uint64(getEnvAsInt("SEED", 1)),
		Workers:          getEnvAsInt("WORKERS", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration by resolving every stage's options.
func (c *Config) Validate() error {
	if err := c.Rolling(dynamics.ModeNetwork).Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Bootstrap(dynamics.ModeCluster).Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Estimation returns the estimation stage options.
func (c *Config) Estimation() estimation.Options {
	return estimation.Options{
		Alpha: c.Alpha,
		Preprocess: estimation.PreprocessOptions{
			Standardize:      c.Standardize,
			RemoveMarketMode: c.RemoveMarketMode,
		},
		Shrinkage: estimation.Shrinkage(c.Shrinkage),
		Distance:  estimation.DistanceMethod(c.Distance),
	}
}

// FilterOptions returns the network filter options.
func (c *Config) FilterOptions() network.FilterOptions {
	return network.FilterOptions{Type: network.FilterType(c.Filter)}
}

// Clustering returns the cluster engine options.
func (c *Config) Clustering() clustering.Options {
	return clustering.Options{
		Method:      clustering.Method(c.Linkage),
		MaxClusters: c.MaxClusters,
		Clusters:    c.Clusters,
	}
}

// Pipeline returns the per-slice options of the drivers for mode.
func (c *Config) Pipeline(mode dynamics.Mode) dynamics.PipelineOptions {
	return dynamics.PipelineOptions{
		Mode:       mode,
		Estimation: c.Estimation(),
		Filter:     c.FilterOptions(),
		WeightType: network.WeightType(c.WeightType),
		Clustering: c.Clustering(),
		Workers:    c.Workers,
	}
}

// Rolling returns the rolling driver options for mode.
func (c *Config) Rolling(mode dynamics.Mode) dynamics.RollingOptions {
	return dynamics.RollingOptions{
		Window:   c.Window,
		Step:     c.Step,
		Pipeline: c.Pipeline(mode),
	}
}

// Bootstrap returns the bootstrap driver options for mode.
func (c *Config) Bootstrap(mode dynamics.Mode) dynamics.BootstrapOptions {
	return dynamics.BootstrapOptions{
		NSim:     c.NSim,
		Seed:     c.Seed,
		Pipeline: c.Pipeline(mode),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
