// Package cmd implements the command-line interface of mvKV.
//
// The package is organized into several subpackages:
//
//   - bench: Simulated parallel block execution on the versioned stores,
//     checked against a sequential execution of the same workload
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mvkv -help for a list of all commands.
package cmd
