// Package base implements the cross-block executable cache.
//
// The store is owned by the host process and outlives the per-block versioned
// stores. Readers always see one generation: a bounded LRU snapshot published
// through an atomic pointer. The end-of-block promotion stages its inserts and
// evictions in an Update and publishes them with a single generation flip, so a
// concurrent reader observes either the complete old or the complete new
// snapshot, never a mix of both.
package base

import (
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/common"
	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger(common.LoggerBase)

// DefaultCapacity is used if the capacity passed to New is not positive
const DefaultCapacity = 64 * 1024

// generation is an immutable-by-convention snapshot of the cache.
// Only FromBase inserts (content that is already on chain) are added to the
// live generation, everything else goes through an Update.
type generation[K comparable, X any] struct {
	id    uint64
	cache *lru.Cache[K, X]
}

// Store is the cross-block executable cache
type Store[K comparable, X any] struct {
	capacity int
	current  atomic.Pointer[generation[K, X]]
	updating atomic.Bool
}

// New creates a base store with the given capacity (number of executables)
func New[K comparable, X any](capacity int) *Store[K, X] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	s := &Store[K, X]{capacity: capacity}
	s.current.Store(&generation[K, X]{id: 0, cache: s.newCache()})
	return s
}

func (s *Store[K, X]) newCache() *lru.Cache[K, X] {
	cache, err := lru.New[K, X](s.capacity)
	if err != nil {
		// only fails for a non-positive size which New rules out
		panic(errors.Wrap(err, "base: creating lru cache"))
	}
	return cache
}

// Get returns the executable for key from the current generation
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store[K, X]) Get(key K) (X, bool) {
	return s.current.Load().cache.Get(key)
}

// Insert adds an executable for unmodified base content to the current generation
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store[K, X]) Insert(key K, executable X) {
	s.current.Load().cache.Add(key, executable)
}

// Contains reports whether key is cached, without updating its recency
func (s *Store[K, X]) Contains(key K) bool {
	return s.current.Load().cache.Contains(key)
}

// Generation returns the id of the current generation
func (s *Store[K, X]) Generation() uint64 {
	return s.current.Load().id
}

// Len returns the number of executables in the current generation
func (s *Store[K, X]) Len() int {
	return s.current.Load().cache.Len()
}

// Capacity returns the maximum number of executables per generation
func (s *Store[K, X]) Capacity() int {
	return s.capacity
}

// --------------------------------------------------------------------------
// Staged updates
// --------------------------------------------------------------------------

type change[X any] struct {
	executable X
	remove     bool
}

// Update collects inserts and evictions that become visible together on Commit
type Update[K comparable, X any] struct {
	store     *Store[K, X]
	changes   *xsync.MapOf[K, change[X]]
	committed bool
}

// Begin starts a staged update. Only one update may be open at a time,
// starting a second one is an assertion failure.
func (s *Store[K, X]) Begin() *Update[K, X] {
	if !s.updating.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("base: update already in progress"))
	}
	return &Update[K, X]{
		store:   s,
		changes: xsync.NewMapOf[K, change[X]](),
	}
}

// Insert stages an executable for key. A later Insert or Remove for the same
// key replaces this one.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (u *Update[K, X]) Insert(key K, executable X) {
	u.changes.Store(key, change[X]{executable: executable})
}

// Remove stages the eviction of key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (u *Update[K, X]) Remove(key K) {
	u.changes.Store(key, change[X]{remove: true})
}

// Len returns the number of staged changes
func (u *Update[K, X]) Len() int {
	return u.changes.Size()
}

// Published describes the generation created by Commit
type Published struct {
	Generation uint64 // Id of the new generation
	Inserted   int    // Staged inserts
	Removed    int    // Staged removals
	Retained   int    // Staged inserts still cached after the capacity was applied
}

// Commit publishes the staged changes as a new generation. Readers that loaded
// the previous generation keep using it unchanged. If the staged inserts exceed
// the capacity, the least recently used entries are dropped and Retained is
// smaller than Inserted.
//
// Thread-safety: Must not be called concurrently with Insert or Remove of the
// same Update.
func (u *Update[K, X]) Commit() Published {
	if u.committed {
		panic(errors.AssertionFailedf("base: update committed twice"))
	}
	u.committed = true
	defer u.store.updating.Store(false)

	prev := u.store.current.Load()
	next := &generation[K, X]{id: prev.id + 1, cache: u.store.newCache()}

	// copy oldest to newest so the recency order survives the flip
	for _, key := range prev.cache.Keys() {
		if _, staged := u.changes.Load(key); staged {
			continue
		}
		if x, ok := prev.cache.Peek(key); ok {
			next.cache.Add(key, x)
		}
	}

	// promoted executables are the most recently used ones
	pub := Published{Generation: next.id}
	u.changes.Range(func(key K, c change[X]) bool {
		if c.remove {
			pub.Removed++
		} else {
			next.cache.Add(key, c.executable)
			pub.Inserted++
		}
		return true
	})

	// later inserts may have pushed earlier ones out again
	u.changes.Range(func(key K, c change[X]) bool {
		if !c.remove && next.cache.Contains(key) {
			pub.Retained++
		}
		return true
	})

	u.store.current.Store(next)
	plog.Debugf("generation %d published: %d inserted (%d retained), %d removed, %d cached",
		next.id, pub.Inserted, pub.Retained, pub.Removed, next.cache.Len())
	return pub
}

// Abort drops the staged changes without publishing them
func (u *Update[K, X]) Abort() {
	if u.committed {
		return
	}
	u.committed = true
	u.store.updating.Store(false)
	plog.Debugf("update of generation %d aborted, %d changes dropped", u.store.Generation(), u.changes.Size())
}
