package mvcc

import (
	"encoding/hex"
	"fmt"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// TxnIndex is the block-relative position of a transaction. It is fixed by the
// block order, not by the order in which the transactions happen to execute.
type TxnIndex uint32

// Hash is the content hash of a written value (SHA3-256 for statekey.Blob).
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, used for log lines
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// Flag is the completion state of a single versioned entry
type Flag uint32

const (
	FlagDone     Flag = iota // The write is final for the current incarnation
	FlagEstimate             // A write is pending at this index, the value must not be used
)

func (f Flag) String() string {
	switch f {
	case FlagDone:
		return "Done"
	case FlagEstimate:
		return "Estimate"
	default:
		return "Unknown"
	}
}

// Key is the constraint for storage keys. Keys must be comparable (they are
// used as map keys), totally ordered and able to produce a seeded 64 bit hash
// which is used to pick a shard.
type Key[K any] interface {
	comparable
	fmt.Stringer
	Hash64(seed uint64) uint64
	Compare(other K) int
}

// Value is the constraint for write payloads. The content hash must be stable
// for identical content and is computed once per write. ToExecutable converts
// the payload into the derived artifact X (e.g. a deserialized module).
type Value[X any] interface {
	ContentHash() Hash
	ToExecutable() (X, error)
}

// --------------------------------------------------------------------------
// Read Results
// --------------------------------------------------------------------------

// ReadStatus describes the outcome of a raw versioned read
type ReadStatus uint8

const (
	ReadNotFound   ReadStatus = iota // No write below the reader's index
	ReadDependency                   // The nearest write below the reader is an estimate
	ReadDone                         // The nearest write below the reader is final
)

func (s ReadStatus) String() string {
	switch s {
	case ReadNotFound:
		return "NotFound"
	case ReadDependency:
		return "Dependency"
	case ReadDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// ReadResult is returned by the raw read path. Index is the transaction index
// of the entry that was found (only set for ReadDependency and ReadDone).
type ReadResult[V any] struct {
	Status ReadStatus
	Index  TxnIndex
	Value  V
	Hash   Hash
}

// OutputKind tells which field of an Output carries the result
type OutputKind uint8

const (
	OutputValue      OutputKind = iota // Raw value, the caller converts it (and may cache it back)
	OutputExecutable                   // Cached executable, no conversion needed
)

func (k OutputKind) String() string {
	switch k {
	case OutputValue:
		return "Value"
	case OutputExecutable:
		return "Executable"
	default:
		return "Unknown"
	}
}

// Output is the successful result of a Fetch.
//
//   - OutputValue: Value and Hash are set, Index is the writer of the value.
//   - OutputExecutable: Executable is set. For executables cached in the block,
//     Hash and Index describe the write they were derived from. FromBase
//     reports an executable of the base store (Hash and Index are zero).
type Output[V any, X any] struct {
	Kind       OutputKind
	Value      V
	Hash       Hash
	Index      TxnIndex
	Executable X
	FromBase   bool
}

// --------------------------------------------------------------------------
// Executable Descriptors
// --------------------------------------------------------------------------

// Descriptor tells StoreExecutable where an executable was derived from.
// The only implementations are InBlock and FromBase.
type Descriptor interface {
	isDescriptor()
}

// InBlock describes an executable derived from a value written in the current
// block. The executable is cached by content hash on the key it was read from.
type InBlock struct {
	Hash Hash
}

// FromBase describes an executable derived from base storage (code that was not
// modified in the current block). It is stored in the base store directly.
type FromBase struct{}

func (InBlock) isDescriptor()  {}
func (FromBase) isDescriptor() {}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrNotFound is returned by Fetch if neither the block nor the base store has
// a value for the key. The caller falls back to base storage.
var ErrNotFound = errors.New("mvcc: key not found")

// DependencyError is returned by Fetch if the nearest write below the reader is
// an estimate. The scheduler must suspend or re-execute the reader once the
// transaction at Index has been resolved.
type DependencyError struct {
	Index TxnIndex
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("mvcc: read depends on unresolved write of txn %d", e.Index)
}

// IsDependency reports whether err is (or wraps) a DependencyError and returns
// the blocking transaction index.
func IsDependency(err error) (TxnIndex, bool) {
	var dep *DependencyError
	if errors.As(err, &dep) {
		return dep.Index, true
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Store Interface
// --------------------------------------------------------------------------

// VersionedStore is the interface of a block-scoped multi-version store.
// One instance lives exactly as long as the execution of one block.
type VersionedStore[K Key[K], V Value[X], X any] interface {

	// Write inserts or overwrites the entry at (key, txnIdx) as done.
	// Writing the same value twice is indistinguishable from writing it once.
	Write(key K, txnIdx TxnIndex, value V)

	// MarkEstimate flags the entry at (key, txnIdx) as estimate.
	// It panics if no such entry exists.
	MarkEstimate(key K, txnIdx TxnIndex)

	// Delete removes the entry at (key, txnIdx). It panics if no such entry exists.
	Delete(key K, txnIdx TxnIndex)

	// Read returns the raw result for the nearest write strictly below txnIdx,
	// without consulting executables or the base store.
	Read(key K, txnIdx TxnIndex) ReadResult[V]

	// Fetch resolves the value visible to txnIdx. See Output for the result
	// kinds. ErrNotFound and *DependencyError are the expected failures.
	Fetch(key K, txnIdx TxnIndex) (Output[V, X], error)

	// StoreExecutable caches an executable derived for key.
	StoreExecutable(key K, desc Descriptor, executable X)

	// UpdateBaseExecutables promotes the surviving executables of this block
	// into the base store. It must be called once after all writers are done.
	UpdateBaseExecutables() PromotionResult
}

// PromotionResult summarizes one UpdateBaseExecutables run
type PromotionResult struct {
	Keys       int    `json:"keys"`       // Keys touched in the block
	Staged     int    `json:"staged"`     // Executables staged for promotion
	Promoted   int    `json:"promoted"`   // Staged executables the base store kept within its capacity
	Evicted    int    `json:"evicted"`    // Base entries evicted because the content changed
	Generation uint64 `json:"generation"` // Base store generation after the flip
}
