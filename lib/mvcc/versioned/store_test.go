package versioned

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/mvcc/base"
	mvcctesting "github.com/ValentinKolb/mvkv/lib/mvcc/testing"
	"github.com/ValentinKolb/mvkv/lib/statekey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ mvcc.VersionedStore[statekey.Key, statekey.Blob, *statekey.Module] = (*Store[statekey.Key, statekey.Blob, *statekey.Module])(nil)

type testStore = Store[statekey.Key, statekey.Blob, *statekey.Module]

func newTestStore(opts *Options) (*testStore, *base.Store[statekey.Key, *statekey.Module]) {
	return newTestStoreWithCapacity(opts, 64)
}

func newTestStoreWithCapacity(opts *Options, capacity int) (*testStore, *base.Store[statekey.Key, *statekey.Module]) {
	b := base.New[statekey.Key, *statekey.Module](capacity)
	return New[statekey.Key, statekey.Blob, *statekey.Module](b, opts), b
}

func factory(shards int) mvcctesting.StoreFactory {
	return func(b *mvcctesting.Base) mvcctesting.Store {
		opts := DefaultOptions()
		opts.NumShards = shards
		return New[statekey.Key, statekey.Blob, *statekey.Module](b, opts)
	}
}

func TestStoreInterface(t *testing.T) {
	mvcctesting.RunStoreTests(t, "Versioned", factory(0))
	mvcctesting.RunStoreTests(t, "VersionedSingleShard", factory(1))
	mvcctesting.RunStoreTests(t, "VersionedManyShards", factory(257))
}

func BenchmarkStore(b *testing.B) {
	mvcctesting.RunStoreBenchmarks(b, "Versioned", factory(0))
}

func TestNewRequiresBase(t *testing.T) {
	assert.Panics(t, func() {
		New[statekey.Key, statekey.Blob, *statekey.Module](nil, nil)
	})
}

func TestNewDefaults(t *testing.T) {
	store, b := newTestStore(&Options{})

	assert.Equal(t, "default", store.Name())
	assert.NotEmpty(t, store.shards)
	assert.Positive(t, store.promotionWorkers)
	assert.Same(t, b, store.Base())
}

func TestLen(t *testing.T) {
	store, _ := newTestStore(nil)
	addr := statekey.MustParseAddress("0x1")

	for i := 0; i < 10; i++ {
		key := statekey.ResourceKey(addr, strings.Repeat("r", i+1))
		store.Write(key, 1, statekey.NewBlob([]byte("a")))
		store.Write(key, 2, statekey.NewBlob([]byte("b")))
	}
	assert.Equal(t, 10, store.Len())
}

func TestStoreExecutableUnwrittenKey(t *testing.T) {
	store, b := newTestStore(nil)
	key := statekey.CodeKey(statekey.MustParseAddress("0x1"), "never")
	blob := statekey.NewBlob([]byte("code"))

	store.StoreExecutable(key, mvcc.InBlock{Hash: blob.ContentHash()}, &statekey.Module{})

	_, err := store.Fetch(key, 5)
	assert.ErrorIs(t, err, mvcc.ErrNotFound)
	assert.Zero(t, store.Len())
	assert.Zero(t, b.Len())
}

func TestInfo(t *testing.T) {
	opts := DefaultOptions()
	opts.Name = "info"
	opts.NumShards = 4
	store, b := newTestStore(opts)
	addr := statekey.MustParseAddress("0x2")

	a := statekey.ResourceKey(addr, "a")
	c := statekey.ResourceKey(addr, "c")
	code := statekey.CodeKey(addr, "m")
	modBlob := statekey.NewBlob(statekey.EncodeModule("m", []byte("xyz")))

	store.Write(a, 1, statekey.NewBlob([]byte("1234")))
	store.Write(a, 3, statekey.NewBlob([]byte("12345678")))
	store.MarkEstimate(a, 3)
	store.Write(c, 2, statekey.NewBlob([]byte("12")))
	store.Write(code, 1, modBlob)
	store.StoreExecutable(code, mvcc.InBlock{Hash: modBlob.ContentHash()}, &statekey.Module{Name: "m"})
	b.Insert(statekey.CodeKey(addr, "other"), &statekey.Module{})

	_, _ = store.Fetch(a, 5)    // dependency
	_, _ = store.Fetch(c, 5)    // value
	_, _ = store.Fetch(code, 5) // executable
	_, _ = store.Fetch(statekey.CodeKey(addr, "other"), 5)
	_, _ = store.Fetch(statekey.CodeKey(addr, "missing"), 5)

	info := store.Info()
	assert.Equal(t, "info", info.Name)
	assert.Equal(t, 3, info.Keys)
	assert.Equal(t, 4, info.Entries)
	assert.Equal(t, 1, info.PendingKeys)
	assert.Equal(t, 1, info.Executables)
	assert.Equal(t, 4, info.ShardCount)
	assert.Equal(t, FetchCounts{Value: 1, Executable: 1, Base: 1, NotFound: 1, Dependency: 1}, info.Fetches)
	assert.False(t, info.Promoted)
	assert.Equal(t, 1, info.BaseSize)
	assert.Positive(t, info.AvgValueSize)

	store.UpdateBaseExecutables()
	info = store.Info()
	assert.True(t, info.Promoted)
	assert.Equal(t, uint64(1), info.BaseGeneration)
	assert.Equal(t, 2, info.BaseSize)
}

func TestWritePrometheus(t *testing.T) {
	opts := DefaultOptions()
	opts.Name = "prom"
	store, _ := newTestStore(opts)
	key := statekey.ResourceKey(statekey.MustParseAddress("0x3"), "r")

	store.Write(key, 1, statekey.NewBlob([]byte("v")))
	store.Write(key, 2, statekey.NewBlob([]byte("w")))
	store.MarkEstimate(key, 2)
	store.Delete(key, 2)
	_, _ = store.Fetch(key, 3)

	var buf bytes.Buffer
	store.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, `mvkv_writes_total{store="prom"} 2`)
	assert.Contains(t, out, `mvkv_estimates_total{store="prom"} 1`)
	assert.Contains(t, out, `mvkv_deletes_total{store="prom"} 1`)
	assert.Contains(t, out, `mvkv_fetch_total{store="prom",outcome="value"} 1`)
}

func TestMetricsAreIsolated(t *testing.T) {
	first, _ := newTestStore(nil)
	second, _ := newTestStore(nil)
	key := statekey.ResourceKey(statekey.MustParseAddress("0x4"), "r")

	first.Write(key, 1, statekey.NewBlob([]byte("v")))

	assert.Equal(t, uint64(1), first.metrics.writes.Get())
	assert.Zero(t, second.metrics.writes.Get())
}

// writeModules writes n modules and caches an executable for each of them
func writeModules(store *testStore, n int) {
	addr := statekey.MustParseAddress("0x5")
	for i := 0; i < n; i++ {
		key := statekey.CodeKey(addr, strings.Repeat("m", i+1))
		value := statekey.NewBlob(statekey.EncodeModule(key.Path, []byte{byte(i)}))
		store.Write(key, mvcc.TxnIndex(i), value)
		store.StoreExecutable(key, mvcc.InBlock{Hash: value.ContentHash()}, &statekey.Module{Name: key.Path})
	}
}

func TestPromotionUsesPool(t *testing.T) {
	opts := DefaultOptions()
	opts.NumShards = 32
	opts.PromotionWorkers = 2

	const modules = 200
	store, b := newTestStoreWithCapacity(opts, 2*modules)
	writeModules(store, modules)

	res := store.UpdateBaseExecutables()
	assert.Equal(t, modules, res.Keys)
	assert.Equal(t, modules, res.Staged)
	assert.Equal(t, modules, res.Promoted)
	assert.Equal(t, modules, b.Len())
}

func TestPromotionOverCapacity(t *testing.T) {
	opts := DefaultOptions()
	opts.Name = "small"
	opts.NumShards = 8
	store, b := newTestStoreWithCapacity(opts, 16)
	writeModules(store, 50)

	res := store.UpdateBaseExecutables()
	assert.Equal(t, 50, res.Staged)
	assert.Equal(t, b.Capacity(), res.Promoted)
	assert.Equal(t, b.Capacity(), b.Len())

	var buf bytes.Buffer
	store.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), fmt.Sprintf(`mvkv_promotion_total{store="small",result="promoted"} %d`, b.Capacity()))
}

// taggedKey is a test key carrying an arbitrary tag. Shards only use Hash64,
// but a tag of an unhashable type makes every Go map lookup of the key panic.
type taggedKey struct {
	name string
	tag  any
}

func (k taggedKey) String() string { return k.name }

func (k taggedKey) Hash64(seed uint64) uint64 {
	return statekey.ResourceKey(statekey.Address{}, k.name).Hash64(seed)
}

func (k taggedKey) Compare(other taggedKey) int {
	return strings.Compare(k.name, other.name)
}

func TestPromotionPanicReleasesBase(t *testing.T) {
	b := base.New[taggedKey, *statekey.Module](16)

	// the key has no executable, so promotion looks it up in the base store
	first := New[taggedKey, statekey.Blob, *statekey.Module](b, nil)
	first.Write(taggedKey{name: "m", tag: []byte("unhashable")}, 0, statekey.NewBlob([]byte("v")))
	assert.Panics(t, func() { first.UpdateBaseExecutables() })

	assert.Zero(t, b.Generation())
	assert.Zero(t, b.Len())

	// the next block can still promote
	key := taggedKey{name: "m"}
	value := statekey.NewBlob(statekey.EncodeModule("m", []byte("code")))
	second := New[taggedKey, statekey.Blob, *statekey.Module](b, nil)
	second.Write(key, 0, value)
	second.StoreExecutable(key, mvcc.InBlock{Hash: value.ContentHash()}, &statekey.Module{Name: "m"})

	var res mvcc.PromotionResult
	require.NotPanics(t, func() { res = second.UpdateBaseExecutables() })
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 1, b.Len())
}

func TestPendingKeysAtHighestIndex(t *testing.T) {
	store, _ := newTestStore(nil)
	key := statekey.ResourceKey(statekey.MustParseAddress("0x7"), "r")
	last := mvcc.TxnIndex(^uint32(0))

	store.Write(key, last, statekey.NewBlob([]byte("v")))
	assert.Zero(t, store.Info().PendingKeys)

	store.MarkEstimate(key, last)
	assert.Equal(t, 1, store.Info().PendingKeys)
}

func TestConcurrentFetchDuringPromotionOfOtherBlock(t *testing.T) {
	// block N promotes while block N+1 already reads through the base store:
	// readers observe either the old or the new executable, nothing else
	first, b := newTestStore(nil)
	key := statekey.CodeKey(statekey.MustParseAddress("0x6"), "m")
	oldModule := &statekey.Module{Name: "old"}
	newModule := &statekey.Module{Name: "new"}
	b.Insert(key, oldModule)

	value := statekey.NewBlob([]byte("new"))
	first.Write(key, 0, value)
	first.StoreExecutable(key, mvcc.InBlock{Hash: value.ContentHash()}, newModule)

	second := New[statekey.Key, statekey.Blob, *statekey.Module](b, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				out, err := second.Fetch(key, 0)
				if assert.NoError(t, err) {
					assert.True(t, out.Executable == oldModule || out.Executable == newModule)
				}
			}
		}()
	}

	first.UpdateBaseExecutables()
	close(stop)
	wg.Wait()

	out, err := second.Fetch(key, 0)
	require.NoError(t, err)
	assert.Same(t, newModule, out.Executable)
}
