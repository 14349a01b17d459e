package block

import (
	"testing"

	"github.com/ValentinKolb/mvkv/lib/common"
	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/statekey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var addr = statekey.MustParseAddress("0x1")

func TestNewRequiresBases(t *testing.T) {
	assert.Panics(t, func() { New(1, nil, nil) })
	assert.Panics(t, func() { New(1, &Bases{}, nil) })
}

func TestStoreFor(t *testing.T) {
	b := New(1, NewBases(16), &common.StoreConfig{NumShards: 2, PromotionWorkers: 1})

	assert.Same(t, b.Code(), b.StoreFor(statekey.CodeKey(addr, "m")))
	assert.Same(t, b.Data(), b.StoreFor(statekey.ResourceKey(addr, "r")))
	assert.Equal(t, "code", b.Code().Name())
	assert.Equal(t, "data", b.Data().Name())
	assert.Equal(t, uint64(1), b.Height())
}

func TestExecutablesSurviveBlocks(t *testing.T) {
	bases := NewBases(16)
	key := statekey.CodeKey(addr, "coin")
	code := statekey.NewBlob(statekey.EncodeModule("coin", []byte("v1")))

	// block 1 publishes and loads the module
	first := New(1, bases, nil)
	store := first.StoreFor(key)
	store.Write(key, 3, code)

	out, err := store.Fetch(key, 4)
	require.NoError(t, err)
	require.Equal(t, mvcc.OutputValue, out.Kind)
	module, err := out.Value.ToExecutable()
	require.NoError(t, err)
	store.StoreExecutable(key, mvcc.InBlock{Hash: out.Hash}, module)

	summary := first.Finish()
	assert.Equal(t, uint64(1), summary.Height)
	assert.Equal(t, 1, summary.Code.Promoted)
	assert.Zero(t, summary.Data.Keys)

	assert.Panics(t, func() { first.Finish() })
	assert.Panics(t, func() { first.Code() })

	// block 2 resolves the module through the base store
	second := New(2, bases, nil)
	out, err = second.StoreFor(key).Fetch(key, 0)
	require.NoError(t, err)
	assert.True(t, out.FromBase)
	assert.Same(t, module, out.Executable)

	// block 2 upgrades the module without loading it, block 3 must not see v1
	second.StoreFor(key).Write(key, 0, statekey.NewBlob(statekey.EncodeModule("coin", []byte("v2"))))
	summary = second.Finish()
	assert.Equal(t, 1, summary.Code.Evicted)

	third := New(3, bases, nil)
	_, err = third.StoreFor(key).Fetch(key, 0)
	assert.ErrorIs(t, err, mvcc.ErrNotFound)
}
