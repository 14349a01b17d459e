package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/mvkv/cmd/bench"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mvkv",
		Short: "multi-version key store for parallel transaction execution",
		Long: fmt.Sprintf(`mvKV (v%s)

A multi-version in-memory key store for optimistic parallel execution of
ordered transactions (Block-STM), with per-key executable caching and a
cross-block executable cache.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mvKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mvKV v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
