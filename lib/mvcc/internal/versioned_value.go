package internal

import (
	"sync"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// btreeDegree is small because most keys see only a handful of writers per block
const btreeDegree = 8

// version is the item type of the ordered version map
type version[V Hashable] struct {
	idx   mvcc.TxnIndex
	entry *Entry[V]
}

func versionLess[V Hashable](a, b version[V]) bool {
	return a.idx < b.idx
}

// --------------------------------------------------------------------------
// VersionedValue (all writes of one key in one block)
// --------------------------------------------------------------------------

// VersionedValue holds the writes of all transactions for a single key,
// ordered by transaction index, and the executables derived from them.
//
// The version map is guarded by mu: writers of the same key serialize among
// themselves, readers only take the read lock. Flag changes are atomic and only
// need the read lock. The executables map is keyed by content hash and is
// independent of the transaction index.
type VersionedValue[V mvcc.Value[X], X any] struct {
	mu          sync.RWMutex
	versions    *btree.BTreeG[version[V]]
	executables *xsync.MapOf[mvcc.Hash, X]
}

// NewVersionedValue creates an empty versioned value
func NewVersionedValue[V mvcc.Value[X], X any]() *VersionedValue[V, X] {
	return &VersionedValue[V, X]{
		versions:    btree.NewG[version[V]](btreeDegree, versionLess[V]),
		executables: xsync.NewMapOf[mvcc.Hash, X](),
	}
}

// Read returns the nearest entry with an index strictly below txnIdx.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (vv *VersionedValue[V, X]) Read(txnIdx mvcc.TxnIndex) mvcc.ReadResult[V] {
	// nothing can be visible to the first transaction of the block
	if txnIdx == 0 {
		return mvcc.ReadResult[V]{Status: mvcc.ReadNotFound}
	}

	vv.mu.RLock()
	defer vv.mu.RUnlock()

	var (
		found version[V]
		ok    bool
	)
	vv.versions.DescendLessOrEqual(version[V]{idx: txnIdx - 1}, func(v version[V]) bool {
		found, ok = v, true
		return false
	})

	if !ok {
		return mvcc.ReadResult[V]{Status: mvcc.ReadNotFound}
	}

	if found.entry.Flag() == mvcc.FlagEstimate {
		return mvcc.ReadResult[V]{Status: mvcc.ReadDependency, Index: found.idx}
	}

	return mvcc.ReadResult[V]{
		Status: mvcc.ReadDone,
		Index:  found.idx,
		Value:  found.entry.Value(),
		Hash:   found.entry.Hash(),
	}
}

// Insert stores entry at txnIdx, replacing a previous entry at the same index
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (vv *VersionedValue[V, X]) Insert(txnIdx mvcc.TxnIndex, entry *Entry[V]) {
	vv.mu.Lock()
	defer vv.mu.Unlock()
	vv.versions.ReplaceOrInsert(version[V]{idx: txnIdx, entry: entry})
}

// MarkEstimate flags the entry at exactly txnIdx.
// Returns false if there is no entry at that index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (vv *VersionedValue[V, X]) MarkEstimate(txnIdx mvcc.TxnIndex) bool {
	vv.mu.RLock()
	defer vv.mu.RUnlock()

	v, ok := vv.versions.Get(version[V]{idx: txnIdx})
	if !ok {
		return false
	}
	v.entry.MarkEstimate()
	return true
}

// Remove deletes the entry at exactly txnIdx.
// Returns false if there is no entry at that index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (vv *VersionedValue[V, X]) Remove(txnIdx mvcc.TxnIndex) bool {
	vv.mu.Lock()
	defer vv.mu.Unlock()
	_, ok := vv.versions.Delete(version[V]{idx: txnIdx})
	return ok
}

// Latest returns the entry with the highest surviving index
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (vv *VersionedValue[V, X]) Latest() (*Entry[V], mvcc.TxnIndex, bool) {
	vv.mu.RLock()
	defer vv.mu.RUnlock()

	v, ok := vv.versions.Max()
	if !ok {
		return nil, 0, false
	}
	return v.entry, v.idx, true
}

// Len returns the number of surviving entries
func (vv *VersionedValue[V, X]) Len() int {
	vv.mu.RLock()
	defer vv.mu.RUnlock()
	return vv.versions.Len()
}

// Executable returns the cached executable for a content hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (vv *VersionedValue[V, X]) Executable(hash mvcc.Hash) (X, bool) {
	return vv.executables.Load(hash)
}

// StoreExecutable caches an executable for a content hash.
// The first executable stored for a hash wins, later calls are no-ops.
// Returns true if the executable was stored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (vv *VersionedValue[V, X]) StoreExecutable(hash mvcc.Hash, executable X) bool {
	_, loaded := vv.executables.LoadOrStore(hash, executable)
	return !loaded
}

// ExecutableCount returns the number of cached executables
func (vv *VersionedValue[V, X]) ExecutableCount() int {
	return vv.executables.Size()
}
