package bench

import (
	"fmt"
	"io"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// percentiles reported for every timer
var percentiles = []float64{0.5, 0.95, 0.99}

// benchMetrics are the executor side measurements. The store side counters
// live in the VictoriaMetrics sets of the versioned stores.
type benchMetrics struct {
	registry gometrics.Registry

	blocks      gometrics.Timer
	txns        gometrics.Timer
	waits       gometrics.Timer
	commitDelay gometrics.Timer
	backlog     gometrics.Histogram

	dependencies       gometrics.Counter
	reexecutions       gometrics.Counter
	validationFailures gometrics.Counter
	loads              gometrics.Counter
	cacheHits          gometrics.Counter
	baseHits           gometrics.Counter
}

func newBenchMetrics() *benchMetrics {
	r := gometrics.NewRegistry()
	return &benchMetrics{
		registry: r,

		blocks:      gometrics.NewRegisteredTimer("block.duration", r),
		txns:        gometrics.NewRegisteredTimer("txn.duration", r),
		waits:       gometrics.NewRegisteredTimer("txn.dependency_wait", r),
		commitDelay: gometrics.NewRegisteredTimer("commit.delay", r),
		backlog:     gometrics.NewRegisteredHistogram("commit.backlog", r, gometrics.NewUniformSample(4096)),

		dependencies:       gometrics.NewRegisteredCounter("txn.dependencies", r),
		reexecutions:       gometrics.NewRegisteredCounter("txn.reexecutions", r),
		validationFailures: gometrics.NewRegisteredCounter("txn.validation_failures", r),
		loads:              gometrics.NewRegisteredCounter("executable.loads", r),
		cacheHits:          gometrics.NewRegisteredCounter("executable.block_hits", r),
		baseHits:           gometrics.NewRegisteredCounter("executable.base_hits", r),
	}
}

// Registry returns the go-metrics registry of the run
func (m *benchMetrics) Registry() gometrics.Registry {
	return m.registry
}

// printSummary prints the timers and counters in a compact table
func (m *benchMetrics) printSummary(w io.Writer) {
	timer := func(name string, t gometrics.Timer) {
		ps := t.Percentiles(percentiles)
		fmt.Fprintf(w, "  %-22s: n=%-8d p50=%-12s p95=%-12s p99=%s\n", name, t.Count(),
			time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]))
	}
	counter := func(name string, c gometrics.Counter) {
		fmt.Fprintf(w, "  %-22s: %d\n", name, c.Count())
	}

	timer("Block", m.blocks)
	timer("Transaction", m.txns)
	timer("Dependency Wait", m.waits)
	timer("Commit Delay", m.commitDelay)
	fmt.Fprintf(w, "  %-22s: mean=%.1f max=%d\n", "Commit Backlog", m.backlog.Mean(), m.backlog.Max())

	counter("Dependencies", m.dependencies)
	counter("Re-executions", m.reexecutions)
	counter("Validation Failures", m.validationFailures)
	counter("Executable Loads", m.loads)
	counter("Block Cache Hits", m.cacheHits)
	counter("Base Cache Hits", m.baseHits)
}
