package versioned

import (
	"sync"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/mvcc/internal"
	"github.com/ValentinKolb/mvkv/lib/mvcc/util"
)

// samplesPerShard limits how many values per shard are sampled for sizes
const samplesPerShard = 100

// sized is implemented by values that can report their payload size
type sized interface {
	Len() int
}

// Info describes the state of a store. Key, entry and executable counts are
// exact at the time each shard was visited; value sizes are sampled.
type Info struct {
	Name              string                 `json:"name"`
	Keys              int                    `json:"keys"`
	Entries           int                    `json:"entries"`
	PendingKeys       int                    `json:"pending_keys"` // Keys whose latest entry is an estimate
	Executables       int                    `json:"executables"`
	ShardCount        int                    `json:"shard_count"`
	ShardDistribution util.DistributionStats `json:"shard_distribution"`
	MedianValueSize   int                    `json:"median_value_size"`
	AvgValueSize      int                    `json:"avg_value_size"`
	Fetches           FetchCounts            `json:"fetches"`
	Promoted          bool                   `json:"promoted"`
	BaseGeneration    uint64                 `json:"base_generation"`
	BaseSize          int                    `json:"base_size"`
}

// Info collects statistics about the store. The shards are visited
// concurrently; the result is only a consistent snapshot if no writers run.
func (s *Store[K, V, X]) Info() Info {
	histogram := util.NewSizeHistogram()
	shardSizes := make([]float64, len(s.shards))

	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		entries     int
		pending     int
		executables int
	)

	wg.Add(len(s.shards))
	for i, shard := range s.shards {
		go func() {
			defer wg.Done()

			var shardEntries, shardPending, shardExecutables, sampled int
			shard.Data.Range(func(_ K, vv *internal.VersionedValue[V, X]) bool {
				shardEntries += vv.Len()
				shardExecutables += vv.ExecutableCount()

				entry, _, ok := vv.Latest()
				if !ok {
					return true
				}
				if entry.Flag() == mvcc.FlagEstimate {
					shardPending++
				}
				if sampled < samplesPerShard {
					if v, ok := any(entry.Value()).(sized); ok {
						histogram.AddSample(v.Len())
						sampled++
					}
				}
				return true
			})

			mu.Lock()
			defer mu.Unlock()
			entries += shardEntries
			pending += shardPending
			executables += shardExecutables
			shardSizes[i] = float64(shard.Data.Size())
		}()
	}
	wg.Wait()

	keys := 0
	for _, size := range shardSizes {
		keys += int(size)
	}

	return Info{
		Name:              s.name,
		Keys:              keys,
		Entries:           entries,
		PendingKeys:       pending,
		Executables:       executables,
		ShardCount:        len(s.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		MedianValueSize:   histogram.MedianEstimate(),
		AvgValueSize:      histogram.AverageSize(),
		Fetches:           s.metrics.fetchCounts(),
		Promoted:          s.promoted.Load(),
		BaseGeneration:    s.base.Generation(),
		BaseSize:          s.base.Len(),
	}
}
