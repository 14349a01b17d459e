package internal

import (
	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Shard Type (partition of the key space)
// --------------------------------------------------------------------------

// Shard is one partition of the key space. Writers touching keys in different
// shards never contend, and within a shard the xsync map only locks buckets.
type Shard[K mvcc.Key[K], V mvcc.Value[X], X any] struct {
	Data *xsync.MapOf[K, *VersionedValue[V, X]]
}

// NewShard creates a new shard which uses the keys own hash function
func NewShard[K mvcc.Key[K], V mvcc.Value[X], X any]() *Shard[K, V, X] {
	hasher := func(key K, seed uint64) uint64 {
		return key.Hash64(seed)
	}
	return &Shard[K, V, X]{
		Data: xsync.NewMapOfWithHasher[K, *VersionedValue[V, X]](hasher),
	}
}

// GetOrCreate returns the versioned value for key, creating it on first use
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard[K, V, X]) GetOrCreate(key K) *VersionedValue[V, X] {
	vv, _ := s.Data.LoadOrCompute(key, NewVersionedValue[V, X])
	return vv
}

// Get returns the versioned value for key if the key was written in this block
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard[K, V, X]) Get(key K) (*VersionedValue[V, X], bool) {
	return s.Data.Load(key)
}

// GetShard returns the appropriate shard for a given key hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](hash uint64, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := hash >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
