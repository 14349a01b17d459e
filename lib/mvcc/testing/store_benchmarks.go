package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/statekey"
)

// benchKeys is the number of distinct keys used by the benchmarks
const benchKeys = 1024

// RunStoreBenchmarks runs all benchmarks for a VersionedStore implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Write", func(b *testing.B) {
			benchmarkWrite(b, factory(newBase()))
		})

		b.Run("Fetch", func(b *testing.B) {
			benchmarkFetch(b, factory(newBase()))
		})

		b.Run("FetchHotKey", func(b *testing.B) {
			benchmarkFetchHotKey(b, factory(newBase()))
		})

		b.Run("FetchExecutable", func(b *testing.B) {
			benchmarkFetchExecutable(b, factory(newBase()))
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory(newBase()))
		})

		b.Run("Promotion", func(b *testing.B) {
			benchmarkPromotion(b, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func benchValues(n int) []statekey.Blob {
	values := make([]statekey.Blob, n)
	for i := range values {
		values[i] = blob(fmt.Sprintf("value-%d", i))
	}
	return values
}

func benchResourceKeys(n int) []statekey.Key {
	keys := make([]statekey.Key, n)
	for i := range keys {
		keys[i] = resourceKey(i)
	}
	return keys
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkWrite(b *testing.B, store Store) {
	keys := benchResourceKeys(benchKeys)
	values := benchValues(benchKeys)
	var txn atomic.Uint32

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			idx := mvcc.TxnIndex(txn.Add(1))
			store.Write(keys[counter%benchKeys], idx, values[counter%benchKeys])
			counter++
		}
	})
}

func benchmarkFetch(b *testing.B, store Store) {
	keys := benchResourceKeys(benchKeys)
	values := benchValues(benchKeys)
	for i, key := range keys {
		for idx := 0; idx < 16; idx++ {
			store.Write(key, mvcc.TxnIndex(idx*4), values[i])
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			_, _ = store.Fetch(keys[rng.Intn(benchKeys)], mvcc.TxnIndex(rng.Intn(64)))
		}
	})
}

func benchmarkFetchHotKey(b *testing.B, store Store) {
	key := resourceKey(0)
	for idx := 0; idx < 256; idx += 2 {
		store.Write(key, mvcc.TxnIndex(idx), blob(fmt.Sprintf("v%d", idx)))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			_, _ = store.Fetch(key, mvcc.TxnIndex(rng.Intn(256)))
		}
	})
}

func benchmarkFetchExecutable(b *testing.B, store Store) {
	key := codeKey("bench")
	code := statekey.NewBlob(statekey.EncodeModule("bench", []byte("bytecode")))
	store.Write(key, 1, code)
	module, err := code.ToExecutable()
	if err != nil {
		b.Fatalf("decode module: %v", err)
	}
	store.StoreExecutable(key, mvcc.InBlock{Hash: code.ContentHash()}, module)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			out, err := store.Fetch(key, 100)
			if err != nil || out.Kind != mvcc.OutputExecutable {
				b.Errorf("expected executable, got %v (%v)", out.Kind, err)
				return
			}
		}
	})
}

func benchmarkMixedUsage(b *testing.B, store Store) {
	keys := benchResourceKeys(benchKeys)
	values := benchValues(benchKeys)
	var txn atomic.Uint32

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			idx := mvcc.TxnIndex(txn.Add(1))
			key := keys[rng.Intn(benchKeys)]

			switch op := rng.Intn(10); {
			case op < 6: // 60% reads
				_, _ = store.Fetch(key, idx)
			default: // 40% writes
				store.Write(key, idx, values[rng.Intn(benchKeys)])
			}
		}
	})
}

func benchmarkPromotion(b *testing.B, factory StoreFactory) {
	values := benchValues(benchKeys)
	modules := make([]*statekey.Module, benchKeys)
	keys := make([]statekey.Key, benchKeys)
	for i := range keys {
		keys[i] = codeKey(fmt.Sprintf("m%d", i))
		modules[i] = &statekey.Module{Name: keys[i].Path, Hash: values[i].ContentHash()}
	}

	base := newBase()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		store := factory(base)
		for k, key := range keys {
			store.Write(key, mvcc.TxnIndex(k), values[k])
			store.StoreExecutable(key, mvcc.InBlock{Hash: values[k].ContentHash()}, modules[k])
		}
		b.StartTimer()

		store.UpdateBaseExecutables()
	}
}
