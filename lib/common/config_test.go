package common

import (
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBenchConfig() BenchConfig {
	return BenchConfig{
		Store:           StoreConfig{NumShards: 4, PromotionWorkers: 2, BaseCacheSize: 128},
		Blocks:          2,
		Transactions:    100,
		Keys:            50,
		CodeKeys:        5,
		ReadsPerTxn:     4,
		WritesPerTxn:    2,
		Workers:         4,
		ReexecutionRate: 0.1,
		SkipWriteRate:   0.1,
		Seed:            1,
		LogLevel:        "info",
	}
}

func TestBenchConfigValidate(t *testing.T) {
	cfg := validBenchConfig()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(c *BenchConfig){
		"no blocks":             func(c *BenchConfig) { c.Blocks = 0 },
		"no transactions":       func(c *BenchConfig) { c.Transactions = 0 },
		"no keys":               func(c *BenchConfig) { c.Keys = 0 },
		"too many code keys":    func(c *BenchConfig) { c.CodeKeys = 51 },
		"negative reads":        func(c *BenchConfig) { c.ReadsPerTxn = -1 },
		"too many writes":       func(c *BenchConfig) { c.WritesPerTxn = 51 },
		"no workers":            func(c *BenchConfig) { c.Workers = 0 },
		"re-execution rate > 1": func(c *BenchConfig) { c.ReexecutionRate = 1.5 },
		"negative skip rate":    func(c *BenchConfig) { c.SkipWriteRate = -0.1 },
		"no shards":             func(c *BenchConfig) { c.Store.NumShards = 0 },
		"bad log level":         func(c *BenchConfig) { c.LogLevel = "verbose" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validBenchConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestBenchConfigString(t *testing.T) {
	cfg := validBenchConfig()
	out := cfg.String()

	assert.Contains(t, out, "WORKLOAD")
	assert.Contains(t, out, "50 (5 code)")
	assert.Contains(t, out, "Re-execution Rate")
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestInitLoggers(t *testing.T) {
	require.NoError(t, InitLoggers("error"))
	assert.Error(t, InitLoggers("nope"))
}
