// Package testing provides standardised tests and benchmarks for
// implementations of the mvcc.VersionedStore interface.
//
// The package contains:
//   - RunStoreTests: a conformance suite for the read, estimate, delete,
//     executable and promotion semantics of a block store
//   - RunStoreBenchmarks: throughput of the hot paths under parallel load
//
// Example usage:
//
//	factory := func(b *mvcctesting.Base) mvcctesting.Store {
//		return versioned.New[statekey.Key, statekey.Blob, *statekey.Module](b, nil)
//	}
//
//	mvcctesting.RunStoreTests(t, "Versioned", factory)
//	mvcctesting.RunStoreBenchmarks(b, "Versioned", factory)
package testing
