package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/marketgraph/internal/config"
)

// writeReturns writes n days of returns for two correlated pairs plus one loner.
func writeReturns(t *testing.T, n int) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	var b strings.Builder
	b.WriteString("date,AAA,AAB,BBA,BBB,ZZZ\n")
	for i := 0; i < n; i++ {
		a, c := rng.NormFloat64()*0.01, rng.NormFloat64()*0.01
		fmt.Fprintf(&b, "d%03d,%g,%g,%g,%g,%g\n", i,
			a+rng.NormFloat64()*0.002,
			a+rng.NormFloat64()*0.002,
			c+rng.NormFloat64()*0.002,
			c+rng.NormFloat64()*0.002,
			rng.NormFloat64()*0.01,
		)
	}
	path := filepath.Join(t.TempDir(), "returns.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func defaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestRun_Commands(t *testing.T) {
	input := writeReturns(t, 80)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"estimate"}, "Correlation summary"},
		{[]string{"network", "-filter", "PMFG"}, "PMFG edges"},
		{[]string{"cluster", "-linkage", "average"}, "average clusters (k=2"},
		{[]string{"cluster", "-linkage", "DBHT_TMFG"}, "DBHT_TMFG clusters"},
		{[]string{"rolling", "-window", "40", "-step", "20"}, "d079"},
		{[]string{"bootstrap", "-nsim", "5"}, "Edge survival (5 samples)"},
		{[]string{"bootstrap", "-nsim", "5", "-mode", "cluster"}, "Bootstrap cluster counts"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var out bytes.Buffer
			args := append(tt.args, "-input", input)
			require.NoError(t, run(context.Background(), args, defaults(t), zerolog.Nop(), &out))
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestRun_WritesResult(t *testing.T) {
	input := writeReturns(t, 60)
	path := filepath.Join(t.TempDir(), "net.msgpack")

	var out bytes.Buffer
	args := []string{"network", "-input", input, "-out", path}
	require.NoError(t, run(context.Background(), args, defaults(t), zerolog.Nop(), &out))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, msgpack.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "network")
	assert.Contains(t, decoded, "metrics")
}

func TestRun_TimesCommand(t *testing.T) {
	input := writeReturns(t, 40)
	var logs bytes.Buffer
	log := zerolog.New(&logs).Level(zerolog.DebugLevel)

	require.NoError(t, run(context.Background(), []string{"estimate", "-input", input}, defaults(t), log, &bytes.Buffer{}))
	assert.Contains(t, logs.String(), `"operation":"estimate"`)
}

func TestRun_Errors(t *testing.T) {
	input := writeReturns(t, 30)

	t.Run("no command", func(t *testing.T) {
		err := run(context.Background(), nil, defaults(t), zerolog.Nop(), &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage)
	})
	t.Run("unknown command", func(t *testing.T) {
		err := run(context.Background(), []string{"plot", "-input", input}, defaults(t), zerolog.Nop(), &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage)
	})
	t.Run("missing input", func(t *testing.T) {
		err := run(context.Background(), []string{"network"}, defaults(t), zerolog.Nop(), &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage)
	})
	t.Run("bad flag value", func(t *testing.T) {
		err := run(context.Background(), []string{"network", "-input", input, "-filter", "KNN"}, defaults(t), zerolog.Nop(), &bytes.Buffer{})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, errUsage)
	})
	t.Run("missing file", func(t *testing.T) {
		err := run(context.Background(), []string{"estimate", "-input", filepath.Join(t.TempDir(), "none.csv")}, defaults(t), zerolog.Nop(), &bytes.Buffer{})
		assert.Error(t, err)
	})
}
