package testing

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"testing/quick"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/mvcc/base"
	"github.com/ValentinKolb/mvkv/lib/statekey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the store type the suite runs against
type Store = mvcc.VersionedStore[statekey.Key, statekey.Blob, *statekey.Module]

// Base is the base store type the suite runs against
type Base = base.Store[statekey.Key, *statekey.Module]

// StoreFactory creates a fresh block store on top of the given base store
type StoreFactory func(b *Base) Store

// RunStoreTests runs the conformance suite for a VersionedStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("ReadStrictlyBelow", func(t *testing.T) {
			testReadStrictlyBelow(t, factory)
		})

		t.Run("IdempotentWrite", func(t *testing.T) {
			testIdempotentWrite(t, factory)
		})

		t.Run("EstimateIsDependency", func(t *testing.T) {
			testEstimateIsDependency(t, factory)
		})

		t.Run("DeleteFallsThrough", func(t *testing.T) {
			testDeleteFallsThrough(t, factory)
		})

		t.Run("OverwriteClearsEstimate", func(t *testing.T) {
			testOverwriteClearsEstimate(t, factory)
		})

		t.Run("ExecutableCacheReuse", func(t *testing.T) {
			testExecutableCacheReuse(t, factory)
		})

		t.Run("BaseFallback", func(t *testing.T) {
			testBaseFallback(t, factory)
		})

		t.Run("DependencyNeverFallsBack", func(t *testing.T) {
			testDependencyNeverFallsBack(t, factory)
		})

		t.Run("SchedulerBugsPanic", func(t *testing.T) {
			testSchedulerBugsPanic(t, factory)
		})

		t.Run("Scenario", func(t *testing.T) {
			testScenario(t, factory)
		})

		t.Run("Promotion", func(t *testing.T) {
			testPromotion(t, factory)
		})

		t.Run("ConcurrentDisjointKeys", func(t *testing.T) {
			testConcurrentDisjointKeys(t, factory)
		})

		t.Run("ConcurrentSameKey", func(t *testing.T) {
			testConcurrentSameKey(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

var testAddress = statekey.MustParseAddress("0xcafe")

func resourceKey(i int) statekey.Key {
	return statekey.ResourceKey(testAddress, fmt.Sprintf("0x1::test::R%d", i))
}

func codeKey(name string) statekey.Key {
	return statekey.CodeKey(testAddress, name)
}

func blob(s string) statekey.Blob {
	return statekey.NewBlob([]byte(s))
}

func newBase() *Base {
	return base.New[statekey.Key, *statekey.Module](128)
}

// requireValue fetches key at txnIdx and checks that the raw value is returned
func requireValue(t testing.TB, store Store, key statekey.Key, txnIdx mvcc.TxnIndex, want string) {
	t.Helper()
	out, err := store.Fetch(key, txnIdx)
	require.NoError(t, err, "fetch %s at %d", key, txnIdx)
	require.Equal(t, mvcc.OutputValue, out.Kind)
	require.Equal(t, want, out.Value.String())
	require.Equal(t, blob(want).ContentHash(), out.Hash)
}

// requireDependency fetches key at txnIdx and checks the blocking index
func requireDependency(t testing.TB, store Store, key statekey.Key, txnIdx, blocking mvcc.TxnIndex) {
	t.Helper()
	_, err := store.Fetch(key, txnIdx)
	idx, ok := mvcc.IsDependency(err)
	require.True(t, ok, "expected dependency, got %v", err)
	require.Equal(t, blocking, idx)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testReadStrictlyBelow(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	key := resourceKey(1)

	store.Write(key, 3, blob("v3"))

	for _, idx := range []mvcc.TxnIndex{0, 1, 2, 3} {
		_, err := store.Fetch(key, idx)
		assert.ErrorIs(t, err, mvcc.ErrNotFound, "txn %d must not see the write of txn 3", idx)
	}
	for _, idx := range []mvcc.TxnIndex{4, 5, 100} {
		requireValue(t, store, key, idx, "v3")
	}

	res := store.Read(key, 10)
	assert.Equal(t, mvcc.ReadDone, res.Status)
	assert.Equal(t, mvcc.TxnIndex(3), res.Index)

	// an untouched key is not found either
	_, err := store.Fetch(resourceKey(2), 10)
	assert.ErrorIs(t, err, mvcc.ErrNotFound)
}

func testIdempotentWrite(t *testing.T, factory StoreFactory) {
	once := factory(newBase())
	twice := factory(newBase())
	key := resourceKey(1)

	once.Write(key, 2, blob("v"))
	twice.Write(key, 2, blob("v"))
	twice.Write(key, 2, blob("v"))

	for _, idx := range []mvcc.TxnIndex{0, 2, 3, 9} {
		a, errA := once.Fetch(key, idx)
		b, errB := twice.Fetch(key, idx)
		assert.Equal(t, errA, errB)
		assert.Equal(t, a, b)
	}
}

func testEstimateIsDependency(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	key := resourceKey(1)

	store.Write(key, 1, blob("v1"))
	store.Write(key, 4, blob("v4"))
	store.MarkEstimate(key, 4)

	for _, idx := range []mvcc.TxnIndex{5, 6, 50} {
		requireDependency(t, store, key, idx, 4)
	}

	// readers below the estimate are unaffected
	requireValue(t, store, key, 4, "v1")
	requireValue(t, store, key, 2, "v1")

	res := store.Read(key, 5)
	assert.Equal(t, mvcc.ReadDependency, res.Status)
	assert.Equal(t, mvcc.TxnIndex(4), res.Index)
}

func testDeleteFallsThrough(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	key := resourceKey(1)

	store.Write(key, 1, blob("v1"))
	store.Write(key, 3, blob("v3"))
	requireValue(t, store, key, 5, "v3")

	store.Delete(key, 3)
	requireValue(t, store, key, 5, "v1")

	store.Delete(key, 1)
	_, err := store.Fetch(key, 5)
	assert.ErrorIs(t, err, mvcc.ErrNotFound)
}

func testOverwriteClearsEstimate(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	key := resourceKey(1)

	store.Write(key, 2, blob("first"))
	out, err := store.Fetch(key, 3)
	require.NoError(t, err)

	store.MarkEstimate(key, 2)
	requireDependency(t, store, key, 3, 2)

	// the value handed out before the estimate stays valid
	assert.Equal(t, "first", out.Value.String())

	// re-execution writes again and the entry is done
	store.Write(key, 2, blob("second"))
	requireValue(t, store, key, 3, "second")
	assert.Equal(t, "first", out.Value.String())
}

func testExecutableCacheReuse(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	key := codeKey("coin")
	code := statekey.EncodeModule("coin", []byte("bytecode"))

	// two transactions publish identical code
	store.Write(key, 2, statekey.NewBlob(code))
	store.Write(key, 5, statekey.NewBlob(code))

	out, err := store.Fetch(key, 4)
	require.NoError(t, err)
	require.Equal(t, mvcc.OutputValue, out.Kind)

	module, err := out.Value.ToExecutable()
	require.NoError(t, err)
	require.Equal(t, "coin", module.Name)
	store.StoreExecutable(key, mvcc.InBlock{Hash: out.Hash}, module)

	// txn 7 sees the write of txn 5, same content -> same executable
	out, err = store.Fetch(key, 7)
	require.NoError(t, err)
	require.Equal(t, mvcc.OutputExecutable, out.Kind)
	assert.Same(t, module, out.Executable)
	assert.False(t, out.FromBase)
	assert.Equal(t, mvcc.TxnIndex(5), out.Index)

	// first executable wins
	other := &statekey.Module{Name: "other"}
	store.StoreExecutable(key, mvcc.InBlock{Hash: out.Hash}, other)
	out, err = store.Fetch(key, 3)
	require.NoError(t, err)
	assert.Same(t, module, out.Executable)

	// different content is not served from the cache
	store.Write(key, 6, statekey.NewBlob(statekey.EncodeModule("coin", []byte("v2"))))
	out, err = store.Fetch(key, 7)
	require.NoError(t, err)
	assert.Equal(t, mvcc.OutputValue, out.Kind)
}

func testBaseFallback(t *testing.T, factory StoreFactory) {
	b := newBase()
	store := factory(b)
	key := codeKey("base")

	_, err := store.Fetch(key, 3)
	require.ErrorIs(t, err, mvcc.ErrNotFound)

	module := &statekey.Module{Name: "base"}
	store.StoreExecutable(key, mvcc.FromBase{}, module)

	x, ok := b.Get(key)
	require.True(t, ok)
	assert.Same(t, module, x)

	out, err := store.Fetch(key, 3)
	require.NoError(t, err)
	assert.Equal(t, mvcc.OutputExecutable, out.Kind)
	assert.True(t, out.FromBase)
	assert.Same(t, module, out.Executable)

	// a write in the block shadows the base for later transactions only
	store.Write(key, 5, blob("new code"))
	requireValue(t, store, key, 6, "new code")
	out, err = store.Fetch(key, 5)
	require.NoError(t, err)
	assert.True(t, out.FromBase)
}

func testDependencyNeverFallsBack(t *testing.T, factory StoreFactory) {
	b := newBase()
	store := factory(b)
	key := codeKey("pending")

	b.Insert(key, &statekey.Module{Name: "stale"})
	store.Write(key, 2, blob("pending"))
	store.MarkEstimate(key, 2)

	requireDependency(t, store, key, 3, 2)
}

func testSchedulerBugsPanic(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	key := resourceKey(1)

	assert.Panics(t, func() { store.MarkEstimate(key, 1) }, "estimate on unknown key")
	assert.Panics(t, func() { store.Delete(key, 1) }, "delete on unknown key")

	store.Write(key, 2, blob("v"))
	assert.Panics(t, func() { store.MarkEstimate(key, 1) }, "estimate on wrong index")
	assert.Panics(t, func() { store.Delete(key, 3) }, "delete on wrong index")

	store.Delete(key, 2)
	assert.Panics(t, func() { store.Delete(key, 2) }, "delete twice")

	assert.Panics(t, func() { store.StoreExecutable(key, nil, &statekey.Module{}) }, "nil descriptor")
}

func testScenario(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	a := resourceKey(0xA)

	store.Write(a, 2, blob("v2"))
	store.Write(a, 5, blob("v5"))
	store.MarkEstimate(a, 5)
	requireDependency(t, store, a, 7, 5)

	store.Delete(a, 5)
	out, err := store.Fetch(a, 7)
	require.NoError(t, err)
	assert.Equal(t, "v2", out.Value.String())
	assert.Equal(t, blob("v2").ContentHash(), out.Hash)
	assert.Equal(t, mvcc.TxnIndex(2), out.Index)
}

func testPromotion(t *testing.T, factory StoreFactory) {
	b := newBase()

	cached := codeKey("cached")
	changed := codeKey("changed")
	untouched := codeKey("untouched")
	retracted := codeKey("retracted")

	old := &statekey.Module{Name: "old"}
	b.Insert(changed, old)
	b.Insert(untouched, old)
	b.Insert(retracted, old)

	// block N
	store := factory(b)
	code := statekey.NewBlob(statekey.EncodeModule("cached", []byte("v1")))
	store.Write(cached, 1, code)
	module, err := code.ToExecutable()
	require.NoError(t, err)
	store.StoreExecutable(cached, mvcc.InBlock{Hash: code.ContentHash()}, module)

	// an older write has an executable, the latest write does not
	store.Write(changed, 1, blob("changed v1"))
	store.StoreExecutable(changed, mvcc.InBlock{Hash: blob("changed v1").ContentHash()}, &statekey.Module{Name: "v1"})
	store.Write(changed, 3, blob("changed v2"))

	store.Write(retracted, 4, blob("aborted"))
	store.Delete(retracted, 4)

	genBefore := b.Generation()
	res := store.UpdateBaseExecutables()
	assert.Equal(t, 3, res.Keys)
	assert.Equal(t, 1, res.Staged)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, genBefore+1, res.Generation)
	assert.Equal(t, res.Generation, b.Generation())

	assert.Panics(t, func() { store.UpdateBaseExecutables() }, "promotion runs once per block")

	// block N+1 resolves through the base store
	next := factory(b)
	out, err := next.Fetch(cached, 0)
	require.NoError(t, err)
	assert.True(t, out.FromBase)
	assert.Same(t, module, out.Executable)

	_, err = next.Fetch(changed, 9)
	assert.ErrorIs(t, err, mvcc.ErrNotFound, "stale executable must be evicted")

	for _, key := range []statekey.Key{untouched, retracted} {
		out, err = next.Fetch(key, 9)
		require.NoError(t, err)
		assert.Same(t, old, out.Executable)
	}
}

func testConcurrentDisjointKeys(t *testing.T, factory StoreFactory) {
	// every worker owns a set of keys and writes a random sequence of
	// (index, value) pairs to them; afterwards every key must resolve like a
	// sequential map of its own writes
	property := func(seed int64, workers, writes uint8) bool {
		numWorkers := int(workers%8) + 1
		numWrites := int(writes%64) + 1
		store := factory(newBase())

		type write struct {
			idx   mvcc.TxnIndex
			value string
		}
		expected := make([]map[mvcc.TxnIndex]string, numWorkers)

		var wg sync.WaitGroup
		wg.Add(numWorkers)
		for w := 0; w < numWorkers; w++ {
			rng := rand.New(rand.NewSource(seed + int64(w)))
			ops := make([]write, numWrites)
			expected[w] = make(map[mvcc.TxnIndex]string)
			for i := range ops {
				ops[i] = write{idx: mvcc.TxnIndex(rng.Intn(32)), value: fmt.Sprintf("w%d-%d", w, i)}
				expected[w][ops[i].idx] = ops[i].value
			}

			go func() {
				defer wg.Done()
				for _, op := range ops {
					store.Write(resourceKey(w), op.idx, blob(op.value))
				}
			}()
		}
		wg.Wait()

		for w := 0; w < numWorkers; w++ {
			for reader := mvcc.TxnIndex(0); reader <= 32; reader++ {
				var (
					want  string
					found bool
				)
				for idx := mvcc.TxnIndex(0); idx < reader; idx++ {
					if v, ok := expected[w][idx]; ok {
						want, found = v, true
					}
				}

				out, err := store.Fetch(resourceKey(w), reader)
				if !found {
					if err != mvcc.ErrNotFound {
						return false
					}
					continue
				}
				if err != nil || out.Value.String() != want {
					return false
				}
			}
		}
		return true
	}

	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 50}))
}

func testConcurrentSameKey(t *testing.T, factory StoreFactory) {
	store := factory(newBase())
	key := resourceKey(1)
	const writers = 64

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			idx := mvcc.TxnIndex(i)
			store.Write(key, idx, blob(fmt.Sprintf("v%d", i)))

			// concurrent readers never see their own or a later write
			out, err := store.Fetch(key, idx)
			if err == nil {
				assert.Less(t, out.Index, idx)
			}
		}()
	}
	wg.Wait()

	for i := 1; i <= writers; i++ {
		requireValue(t, store, key, mvcc.TxnIndex(i), fmt.Sprintf("v%d", i-1))
	}
}
