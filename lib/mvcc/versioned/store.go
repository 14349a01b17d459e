package versioned

import (
	"runtime"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/common"
	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/mvcc/base"
	"github.com/ValentinKolb/mvkv/lib/mvcc/internal"
	"github.com/ValentinKolb/mvkv/lib/mvcc/util"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger(common.LoggerMVCC)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a Store
type Options struct {
	Name             string // Used as metric label and in log lines (e.g. "code", "data")
	NumShards        int    // Number of shards (<= 0 = number of CPUs)
	PromotionWorkers int    // Goroutines used by UpdateBaseExecutables (<= 0 = number of CPUs)
}

// DefaultOptions returns the default store options
func DefaultOptions() *Options {
	return &Options{
		Name:             "default",
		NumShards:        runtime.NumCPU(),
		PromotionWorkers: runtime.NumCPU(),
	}
}

// --------------------------------------------------------------------------
// Core Store structure
// --------------------------------------------------------------------------

// Store is the sharded multi-version store of one block.
// It implements mvcc.VersionedStore.
type Store[K mvcc.Key[K], V mvcc.Value[X], X any] struct {
	name             string
	seed             uint64
	shards           []*internal.Shard[K, V, X]
	base             *base.Store[K, X]
	promotionWorkers int
	promoted         atomic.Bool
	metrics          *storeMetrics
}

// New creates the store for one block on top of the host owned base store.
// opts may be nil.
func New[K mvcc.Key[K], V mvcc.Value[X], X any](baseStore *base.Store[K, X], opts *Options) *Store[K, V, X] {
	if baseStore == nil {
		panic(errors.AssertionFailedf("versioned: base store must not be nil"))
	}

	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	workers := opts.PromotionWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}

	shards := make([]*internal.Shard[K, V, X], numShards)
	for i := range shards {
		shards[i] = internal.NewShard[K, V, X]()
	}

	return &Store[K, V, X]{
		name:             name,
		seed:             util.GenerateSeed(),
		shards:           shards,
		base:             baseStore,
		promotionWorkers: workers,
		metrics:          newStoreMetrics(name),
	}
}

// shard returns the shard responsible for key
func (s *Store[K, V, X]) shard(key K) *internal.Shard[K, V, X] {
	return internal.GetShard(key.Hash64(s.seed), s.shards)
}

// Name returns the name given in the options
func (s *Store[K, V, X]) Name() string {
	return s.name
}

// Base returns the base store this block store falls back to
func (s *Store[K, V, X]) Base() *base.Store[K, X] {
	return s.base
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Write inserts or overwrites the entry at (key, txnIdx) as done. The content
// hash of value is computed here, once.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// Concurrent writes to the same (key, txnIdx) pair are not supported.
func (s *Store[K, V, X]) Write(key K, txnIdx mvcc.TxnIndex, value V) {
	entry := internal.NewWriteFrom(value)
	s.shard(key).GetOrCreate(key).Insert(txnIdx, entry)
	s.metrics.writes.Inc()
}

// MarkEstimate flags the entry at (key, txnIdx) as estimate.
// Marking a missing entry is a scheduler bug and panics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store[K, V, X]) MarkEstimate(key K, txnIdx mvcc.TxnIndex) {
	vv, ok := s.shard(key).Get(key)
	if !ok || !vv.MarkEstimate(txnIdx) {
		panic(errors.AssertionFailedf("mvcc(%s): mark estimate without entry at (%s, %d)", s.name, key, txnIdx))
	}
	s.metrics.estimates.Inc()
}

// Delete removes the entry at (key, txnIdx).
// Deleting a missing entry is a scheduler bug and panics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store[K, V, X]) Delete(key K, txnIdx mvcc.TxnIndex) {
	vv, ok := s.shard(key).Get(key)
	if !ok || !vv.Remove(txnIdx) {
		panic(errors.AssertionFailedf("mvcc(%s): delete without entry at (%s, %d)", s.name, key, txnIdx))
	}
	s.metrics.deletes.Inc()
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Read returns the raw result for the nearest write strictly below txnIdx.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store[K, V, X]) Read(key K, txnIdx mvcc.TxnIndex) mvcc.ReadResult[V] {
	vv, ok := s.shard(key).Get(key)
	if !ok {
		return mvcc.ReadResult[V]{Status: mvcc.ReadNotFound}
	}
	return vv.Read(txnIdx)
}

// Fetch resolves the value visible to txnIdx:
//
//   - done write with a cached executable for its hash: OutputExecutable
//   - done write without one: OutputValue, the caller converts the value and
//     may cache the result with StoreExecutable(key, mvcc.InBlock{Hash}, x)
//   - no write below txnIdx: the executable of the base store, else ErrNotFound
//   - estimate below txnIdx: *mvcc.DependencyError, the base store is not consulted
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store[K, V, X]) Fetch(key K, txnIdx mvcc.TxnIndex) (mvcc.Output[V, X], error) {
	var (
		out mvcc.Output[V, X]
		res mvcc.ReadResult[V]
	)

	vv, written := s.shard(key).Get(key)
	if written {
		res = vv.Read(txnIdx)
	}

	switch res.Status {
	case mvcc.ReadDone:
		out.Hash = res.Hash
		out.Index = res.Index

		if x, ok := vv.Executable(res.Hash); ok {
			out.Kind = mvcc.OutputExecutable
			out.Executable = x
			s.metrics.fetchExecutable.Inc()
			return out, nil
		}

		out.Kind = mvcc.OutputValue
		out.Value = res.Value
		s.metrics.fetchValue.Inc()
		return out, nil

	case mvcc.ReadDependency:
		s.metrics.fetchDependency.Inc()
		return out, &mvcc.DependencyError{Index: res.Index}
	}

	if x, ok := s.base.Get(key); ok {
		out.Kind = mvcc.OutputExecutable
		out.Executable = x
		out.FromBase = true
		s.metrics.fetchBase.Inc()
		return out, nil
	}

	s.metrics.fetchNotFound.Inc()
	return out, mvcc.ErrNotFound
}

// StoreExecutable caches an executable derived for key.
//
//   - mvcc.InBlock: cached on the key by content hash, the first executable
//     for a hash wins. Keys that were not written in this block are ignored.
//   - mvcc.FromBase: inserted into the base store directly.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store[K, V, X]) StoreExecutable(key K, desc mvcc.Descriptor, executable X) {
	switch d := desc.(type) {
	case mvcc.InBlock:
		vv, ok := s.shard(key).Get(key)
		if !ok {
			plog.Debugf("(%s) ignoring in-block executable for unwritten key %s", s.name, key)
			return
		}
		if vv.StoreExecutable(d.Hash, executable) {
			s.metrics.executablesStored.Inc()
		}
	case mvcc.FromBase:
		s.base.Insert(key, executable)
		s.metrics.executablesStored.Inc()
	default:
		panic(errors.AssertionFailedf("mvcc(%s): unknown executable descriptor %T", s.name, desc))
	}
}

// Len returns the number of keys written in this block
func (s *Store[K, V, X]) Len() int {
	n := 0
	for _, shard := range s.shards {
		n += shard.Data.Size()
	}
	return n
}
