package versioned

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// storeMetrics holds the counters of one store. Every store has its own set so
// that multiple blocks (and tests) can create stores with the same name.
type storeMetrics struct {
	set *metrics.Set

	writes    *metrics.Counter
	estimates *metrics.Counter
	deletes   *metrics.Counter

	fetchValue      *metrics.Counter
	fetchExecutable *metrics.Counter
	fetchBase       *metrics.Counter
	fetchNotFound   *metrics.Counter
	fetchDependency *metrics.Counter

	executablesStored *metrics.Counter
	promoted          *metrics.Counter
	evicted           *metrics.Counter
}

func newStoreMetrics(name string) *storeMetrics {
	set := metrics.NewSet()

	counter := func(metric string, labels ...string) *metrics.Counter {
		l := fmt.Sprintf(`store=%q`, name)
		for i := 0; i+1 < len(labels); i += 2 {
			l += fmt.Sprintf(`,%s=%q`, labels[i], labels[i+1])
		}
		return set.NewCounter(fmt.Sprintf("mvkv_%s{%s}", metric, l))
	}

	return &storeMetrics{
		set: set,

		writes:    counter("writes_total"),
		estimates: counter("estimates_total"),
		deletes:   counter("deletes_total"),

		fetchValue:      counter("fetch_total", "outcome", "value"),
		fetchExecutable: counter("fetch_total", "outcome", "executable"),
		fetchBase:       counter("fetch_total", "outcome", "base"),
		fetchNotFound:   counter("fetch_total", "outcome", "not_found"),
		fetchDependency: counter("fetch_total", "outcome", "dependency"),

		executablesStored: counter("executables_stored_total"),
		promoted:          counter("promotion_total", "result", "promoted"),
		evicted:           counter("promotion_total", "result", "evicted"),
	}
}

// FetchCounts is a snapshot of the fetch outcome counters
type FetchCounts struct {
	Value      uint64 `json:"value"`
	Executable uint64 `json:"executable"`
	Base       uint64 `json:"base"`
	NotFound   uint64 `json:"not_found"`
	Dependency uint64 `json:"dependency"`
}

func (m *storeMetrics) fetchCounts() FetchCounts {
	return FetchCounts{
		Value:      m.fetchValue.Get(),
		Executable: m.fetchExecutable.Get(),
		Base:       m.fetchBase.Get(),
		NotFound:   m.fetchNotFound.Get(),
		Dependency: m.fetchDependency.Get(),
	}
}

// Metrics returns the metric set of the store
func (s *Store[K, V, X]) Metrics() *metrics.Set {
	return s.metrics.set
}

// WritePrometheus writes the store metrics in Prometheus text format
func (s *Store[K, V, X]) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
