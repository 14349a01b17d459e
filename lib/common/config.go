package common

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Store configuration
// --------------------------------------------------------------------------

// StoreConfig configures the versioned stores and the base store
type StoreConfig struct {
	// NumShards is the number of partitions of the key space of a block store
	NumShards int
	// PromotionWorkers bounds the goroutines used by the end-of-block promotion
	PromotionWorkers int
	// BaseCacheSize is the capacity of each cross-block executable cache
	BaseCacheSize int
}

// --------------------------------------------------------------------------
// Bench configuration
// --------------------------------------------------------------------------

// BenchConfig holds the parameters of a simulated block execution
type BenchConfig struct {
	Store StoreConfig

	// Workload
	Blocks       int
	Transactions int
	Keys         int
	CodeKeys     int
	ReadsPerTxn  int
	WritesPerTxn int

	// Scheduling behaviour
	Workers         int
	ReexecutionRate float64 // Share of transactions that run a second incarnation
	SkipWriteRate   float64 // Share of declared writes that end up not being written
	Seed            int64

	// TraceKey optionally names a workload key (in the key's string form) whose
	// committed value is reported after every block
	TraceKey string

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for values the simulation cannot run with
func (c *BenchConfig) Validate() error {
	switch {
	case c.Blocks <= 0:
		return errors.Newf("blocks must be positive, got %d", c.Blocks)
	case c.Transactions <= 0:
		return errors.Newf("transactions must be positive, got %d", c.Transactions)
	case c.Keys <= 0:
		return errors.Newf("keys must be positive, got %d", c.Keys)
	case c.CodeKeys < 0 || c.CodeKeys > c.Keys:
		return errors.Newf("code keys must be between 0 and %d, got %d", c.Keys, c.CodeKeys)
	case c.ReadsPerTxn < 0 || c.WritesPerTxn < 0:
		return errors.New("reads and writes per transaction must not be negative")
	case c.WritesPerTxn > c.Keys:
		return errors.Newf("writes per transaction (%d) exceed the number of keys (%d)", c.WritesPerTxn, c.Keys)
	case c.Workers <= 0:
		return errors.Newf("workers must be positive, got %d", c.Workers)
	case c.ReexecutionRate < 0 || c.ReexecutionRate > 1:
		return errors.Newf("re-execution rate must be in [0,1], got %f", c.ReexecutionRate)
	case c.SkipWriteRate < 0 || c.SkipWriteRate > 1:
		return errors.Newf("skip write rate must be in [0,1], got %f", c.SkipWriteRate)
	case c.Store.NumShards <= 0:
		return errors.Newf("shards must be positive, got %d", c.Store.NumShards)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *BenchConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Workload")
	addField("Blocks", fmt.Sprintf("%d", c.Blocks))
	addField("Transactions/Block", fmt.Sprintf("%d", c.Transactions))
	addField("Keys", fmt.Sprintf("%d (%d code)", c.Keys, c.CodeKeys))
	addField("Reads/Txn", fmt.Sprintf("%d", c.ReadsPerTxn))
	addField("Writes/Txn", fmt.Sprintf("%d", c.WritesPerTxn))
	addField("Seed", fmt.Sprintf("%d", c.Seed))
	if c.TraceKey != "" {
		addField("Trace Key", c.TraceKey)
	}

	addSection("Scheduling")
	addField("Workers", fmt.Sprintf("%d", c.Workers))
	addField("Re-execution Rate", fmt.Sprintf("%.2f", c.ReexecutionRate))
	addField("Skip Write Rate", fmt.Sprintf("%.2f", c.SkipWriteRate))

	addSection("Store")
	addField("Shards", fmt.Sprintf("%d", c.Store.NumShards))
	addField("Promotion Workers", fmt.Sprintf("%d", c.Store.PromotionWorkers))
	addField("Base Cache Size", fmt.Sprintf("%d", c.Store.BaseCacheSize))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
