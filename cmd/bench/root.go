package bench

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	cmdUtil "github.com/ValentinKolb/mvkv/cmd/util"
	"github.com/ValentinKolb/mvkv/lib/common"
	"github.com/ValentinKolb/mvkv/lib/mvcc/base"
	"github.com/ValentinKolb/mvkv/lib/mvcc/versioned"
	"github.com/cockroachdb/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmdConfig = &common.BenchConfig{}
	metricsOut     string
	verbose        bool

	BenchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Simulate parallel block execution on the versioned stores",
		Long: `Executes simulated blocks with a pool of workers on the multi-version stores.
Transactions declare their writes up front, read hot keys, get aborted and re-executed,
and load code modules through the executable caches. Every block is checked against a
sequential execution. The configuration can be set via command line flags or environment
variables (MVKV_<flag>, e.g. MVKV_WORKERS=16).`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "blocks"
	BenchCmd.Flags().Int(key, 3, cmdUtil.WrapString("Number of blocks to execute"))
	key = "transactions"
	BenchCmd.Flags().Int(key, 1000, cmdUtil.WrapString("Number of transactions per block"))
	key = "keys"
	BenchCmd.Flags().Int(key, 500, cmdUtil.WrapString("Number of distinct keys (code and data)"))
	key = "code-keys"
	BenchCmd.Flags().Int(key, 50, cmdUtil.WrapString("How many of the keys are code modules"))
	key = "reads"
	BenchCmd.Flags().Int(key, 8, cmdUtil.WrapString("Reads per transaction"))
	key = "writes"
	BenchCmd.Flags().Int(key, 2, cmdUtil.WrapString("Declared writes per transaction"))
	key = "workers"
	BenchCmd.Flags().Int(key, runtime.NumCPU(), cmdUtil.WrapString("Number of worker goroutines executing transactions"))
	key = "reexecution-rate"
	BenchCmd.Flags().Float64(key, 0.05, cmdUtil.WrapString("Share of transactions whose first incarnation is aborted (0-1)"))
	key = "skip-write-rate"
	BenchCmd.Flags().Float64(key, 0.1, cmdUtil.WrapString("Share of declared writes that are not written in the end (0-1)"))
	key = "seed"
	BenchCmd.Flags().Int64(key, 1, cmdUtil.WrapString("Seed of the workload generator"))
	key = "shards"
	BenchCmd.Flags().Int(key, runtime.NumCPU(), cmdUtil.WrapString("Number of shards per versioned store"))
	key = "promotion-workers"
	BenchCmd.Flags().Int(key, runtime.NumCPU(), cmdUtil.WrapString("Goroutines used to promote executables at the end of a block"))
	key = "base-cache-size"
	BenchCmd.Flags().Int(key, base.DefaultCapacity, cmdUtil.WrapString("Capacity of each cross-block executable cache"))
	key = "trace-key"
	BenchCmd.Flags().String(key, "", cmdUtil.WrapString("Report the committed value of this key after every block (e.g. code:0x100::module_0)"))
	key = "log-level"
	BenchCmd.Flags().String(key, "warn", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "metrics-out"
	BenchCmd.Flags().String(key, "", cmdUtil.WrapString("Optional path to write the store and process metrics of the last block to (Prometheus text format)"))
	key = "verbose"
	BenchCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print the store statistics of every block and all raw metrics"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchCmdConfig.Blocks = viper.GetInt("blocks")
	benchCmdConfig.Transactions = viper.GetInt("transactions")
	benchCmdConfig.Keys = viper.GetInt("keys")
	benchCmdConfig.CodeKeys = viper.GetInt("code-keys")
	benchCmdConfig.ReadsPerTxn = viper.GetInt("reads")
	benchCmdConfig.WritesPerTxn = viper.GetInt("writes")
	benchCmdConfig.Workers = viper.GetInt("workers")
	benchCmdConfig.ReexecutionRate = viper.GetFloat64("reexecution-rate")
	benchCmdConfig.SkipWriteRate = viper.GetFloat64("skip-write-rate")
	benchCmdConfig.Seed = viper.GetInt64("seed")
	benchCmdConfig.Store.NumShards = viper.GetInt("shards")
	benchCmdConfig.Store.PromotionWorkers = viper.GetInt("promotion-workers")
	benchCmdConfig.Store.BaseCacheSize = viper.GetInt("base-cache-size")
	benchCmdConfig.TraceKey = viper.GetString("trace-key")
	benchCmdConfig.LogLevel = viper.GetString("log-level")
	metricsOut = viper.GetString("metrics-out")
	verbose = viper.GetBool("verbose")

	if err := benchCmdConfig.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return common.InitLoggers(benchCmdConfig.LogLevel)
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Parallel block execution on versioned stores")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprint(out, benchCmdConfig.String())
	fmt.Fprintln(out)

	var prom io.Writer
	if metricsOut != "" {
		f, err := os.Create(metricsOut)
		if err != nil {
			return errors.Wrap(err, "creating metrics file")
		}
		defer f.Close()
		prom = f
	}

	report, err := Run(ctx, benchCmdConfig, prom)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "BLOCKS")
	for _, b := range report.Blocks {
		fmt.Fprintf(out, "  #%-4d %-12s reexec=%-5d invalid=%-5d code promoted/evicted=%d/%d base gen=%d size=%d\n",
			b.Height, b.Duration, b.Reexecutions, b.ValidationFailures,
			b.Summary.Code.Promoted, b.Summary.Code.Evicted, b.Summary.Code.Generation, b.Code.BaseSize)
		if b.Traced != nil {
			fmt.Fprintf(out, "        trace %s: hash=%s size=%dB changed=%t\n",
				b.Traced.Key, b.Traced.Hash.Short(), b.Traced.Size, b.Traced.Changed)
		}
		if verbose {
			printInfo(out, "code", b.Code)
			printInfo(out, "data", b.Data)
		}
	}

	total := benchCmdConfig.Blocks * benchCmdConfig.Transactions
	fmt.Fprintln(out)
	fmt.Fprintln(out, "RESULTS")
	fmt.Fprintf(out, "  %-22s: %s\n", "Total Time", report.Duration)
	fmt.Fprintf(out, "  %-22s: %.0f txn/s\n", "Throughput", float64(total)/report.Duration.Seconds())
	report.Metrics.printSummary(out)

	if verbose {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "RAW METRICS")
		gometrics.WriteOnce(report.Metrics.Registry(), out)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "all blocks matched the sequential execution")
	return nil
}

// printInfo prints the statistics of one versioned store
func printInfo(w io.Writer, name string, info versioned.Info) {
	fmt.Fprintf(w, "        %s: keys=%d entries=%d executables=%d shard quality=%.2f median value=%dB fetches=%+v\n",
		name, info.Keys, info.Entries, info.Executables, info.ShardDistribution.DistributionQuality,
		info.MedianValueSize, info.Fetches)
}
