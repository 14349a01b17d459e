// Package mvcc defines the types and the interface of a block-scoped
// multi-version store used for speculative parallel execution of the
// transactions of one block.
//
// Every storage key keeps at most one write per transaction index. A
// transaction at index j always reads the latest write with an index strictly
// smaller than j, even while transactions with higher indices are still
// running. Writes can be flagged as estimates when the scheduler re-executes a
// transaction; readers that hit an estimate get a DependencyError instead of a
// stale value.
//
// Key Components:
//
//   - VersionedStore: the interface implemented by the versioned package
//     (Write, MarkEstimate, Delete, Read, Fetch, StoreExecutable and
//     UpdateBaseExecutables).
//
//   - Key / Value: type constraints for storage keys and write payloads. Values
//     report a stable content hash and convert on demand into an executable
//     artifact (e.g. a deserialized code module).
//
//   - Descriptor: tells StoreExecutable whether an executable was derived from
//     a value written in this block (InBlock) or from base storage (FromBase).
//
//   - ErrNotFound / DependencyError: the two expected, non-fatal outcomes of a
//     Fetch. They are returned as errors and never panic.
//
// Programming errors of the scheduler (marking or deleting an entry that does
// not exist, promoting twice) are assertion failures and panic.
//
// Related Packages:
//
//   - versioned: the sharded implementation of VersionedStore
//   - base: the cross-block executable cache (host owned)
//   - block: per-block context bundling a code and a data store
//   - testing: a conformance suite for VersionedStore implementations
package mvcc
