// Package versioned implements mvcc.VersionedStore with a sharded in-memory
// architecture. One Store holds the writes of exactly one block.
//
// Architecture:
//
//   - Shards: the key space is split into shards (one per CPU by default). The
//     shard of a key is picked from its seeded 64 bit hash. Each shard is an
//     xsync.MapOf from key to VersionedValue, so writers of different keys
//     never contend on a global lock.
//
//   - VersionedValue: all writes of one key, ordered by transaction index in a
//     B-tree. Reads are a reverse range query for the nearest index strictly
//     below the reader. Writers of the same key serialize on a per-key lock.
//
//   - Entries: one write of one transaction. The content hash is computed once
//     at write time. The estimate flag is atomic, and an overwrite replaces the
//     whole entry, so values already returned to readers stay valid.
//
//   - Executables: derived artifacts cached per key by content hash. Two
//     transactions writing identical content share one executable.
//
//   - Base store: the host owned cross-block cache (package base). Fetch falls
//     back to it when no write is visible, and UpdateBaseExecutables promotes
//     the surviving executables into it at the end of the block.
//
// Error policy:
//
//	ErrNotFound and *mvcc.DependencyError are expected outcomes of Fetch.
//	MarkEstimate/Delete of a missing entry, an unknown descriptor and a
//	second UpdateBaseExecutables are scheduler bugs and panic with an
//	assertion failure (github.com/cockroachdb/errors).
//
// Usage Example:
//
//	codeBase := base.New[statekey.Key, *statekey.Module](base.DefaultCapacity)
//	store := versioned.New[statekey.Key, statekey.Blob, *statekey.Module](codeBase, nil)
//
//	store.Write(key, 2, statekey.NewBlob(code))
//
//	out, err := store.Fetch(key, 5)
//	if idx, ok := mvcc.IsDependency(err); ok {
//		// suspend txn 5 until txn idx is resolved
//	}
//	if err == nil && out.Kind == mvcc.OutputValue {
//		module, _ := out.Value.ToExecutable()
//		store.StoreExecutable(key, mvcc.InBlock{Hash: out.Hash}, module)
//	}
//
//	// after all transactions of the block are committed
//	store.UpdateBaseExecutables()
//
// Metrics:
//
//	Every store owns a VictoriaMetrics set with write, estimate, delete, fetch
//	outcome and promotion counters (see Metrics and WritePrometheus).
package versioned
