package versioned

import (
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/mvcc/internal"
	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/pool"
)

// UpdateBaseExecutables promotes the executables that survive this block into
// the base store. For every key written in the block, the entry with the
// highest surviving index decides:
//
//   - its content hash has a cached executable: the executable replaces the
//     base entry of the key
//   - it has none: the base entry of the key is evicted, the content changed
//     and the old executable would be stale
//   - all entries of the key were deleted: the base entry is left untouched
//
// Keys are independent, so the shards are processed in parallel. All changes
// become visible to base readers at once with a single generation flip. If the
// fan-out panics, the staged update is dropped and the base store stays usable
// for the next block.
//
// Thread-safety: Must be called exactly once, after all Write, MarkEstimate
// and Delete calls of the block have returned. A second call panics.
func (s *Store[K, V, X]) UpdateBaseExecutables() mvcc.PromotionResult {
	if !s.promoted.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("mvcc(%s): base executables already updated for this block", s.name))
	}

	update := s.base.Begin()
	defer update.Abort() // no-op after Commit

	var keys, staged, evicted atomic.Int64

	p := pool.New().WithMaxGoroutines(s.promotionWorkers)
	for i, shard := range s.shards {
		p.Go(func() {
			var shardStaged, shardEvicted int64

			shard.Data.Range(func(key K, vv *internal.VersionedValue[V, X]) bool {
				keys.Add(1)

				entry, idx, ok := vv.Latest()
				if !ok {
					return true
				}

				if x, cached := vv.Executable(entry.Hash()); cached {
					update.Insert(key, x)
					shardStaged++
					plog.Debugf("(%s) promote %s from txn %d (hash %s)", s.name, key, idx, entry.Hash().Short())
					return true
				}

				if s.base.Contains(key) {
					update.Remove(key)
					shardEvicted++
					plog.Debugf("(%s) evict %s, txn %d wrote uncached content", s.name, key, idx)
				}
				return true
			})

			staged.Add(shardStaged)
			evicted.Add(shardEvicted)
			plog.Debugf("(%s) shard %d: staged %d, evicted %d", s.name, i, shardStaged, shardEvicted)
		})
	}
	p.Wait()

	pub := update.Commit()

	res := mvcc.PromotionResult{
		Keys:       int(keys.Load()),
		Staged:     int(staged.Load()),
		Promoted:   pub.Retained,
		Evicted:    int(evicted.Load()),
		Generation: pub.Generation,
	}

	s.metrics.promoted.Add(res.Promoted)
	s.metrics.evicted.Add(res.Evicted)
	plog.Infof("(%s) promoted %d of %d staged and evicted %d executables of %d keys, base generation %d",
		s.name, res.Promoted, res.Staged, res.Evicted, res.Keys, res.Generation)

	return res
}
