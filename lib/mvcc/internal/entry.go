package internal

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"golang.org/x/sys/cpu"
)

// --------------------------------------------------------------------------
// Entry Type (one write of one transaction at one key)
// --------------------------------------------------------------------------

// Hashable is implemented by every value that can be stored in an Entry
type Hashable interface {
	ContentHash() mvcc.Hash
}

// Entry is the write of a single transaction at a single key.
// The value and hash are immutable after creation, only the flag changes.
// An overwrite replaces the whole entry, so readers holding a value returned
// earlier are never affected by later writes or estimates.
//
// Entries are padded to whole cache lines: hot keys are rewritten by many
// workers and the flag would otherwise share a line with its neighbours.
type Entry[V Hashable] struct {
	_     cpu.CacheLinePad
	flag  atomic.Uint32
	value V
	hash  mvcc.Hash
	_     cpu.CacheLinePad
}

// NewWriteFrom creates a done entry and computes the content hash once
func NewWriteFrom[V Hashable](value V) *Entry[V] {
	e := &Entry[V]{
		value: value,
		hash:  value.ContentHash(),
	}
	e.flag.Store(uint32(mvcc.FlagDone))
	return e
}

// Flag returns the current completion state
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Entry[V]) Flag() mvcc.Flag {
	return mvcc.Flag(e.flag.Load())
}

// MarkEstimate flags the entry as estimate. The value is left untouched.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Entry[V]) MarkEstimate() {
	e.flag.Store(uint32(mvcc.FlagEstimate))
}

// Value returns the stored value
func (e *Entry[V]) Value() V {
	return e.value
}

// Hash returns the content hash computed at write time
func (e *Entry[V]) Hash() mvcc.Hash {
	return e.hash
}

func (e *Entry[V]) String() string {
	return fmt.Sprintf("Entry{Flag: %s, Hash: %s}", e.Flag(), e.hash.Short())
}
