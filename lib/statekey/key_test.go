package statekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	one, err := ParseAddress("0x1")
	require.NoError(t, err)
	assert.Equal(t, byte(1), one[AddressLength-1])
	assert.Equal(t, "0x"+repeat("00", 31)+"01", one.String())

	upper, err := ParseAddress("0XCAFE")
	require.NoError(t, err)
	assert.Equal(t, MustParseAddress("cafe"), upper)

	for _, bad := range []string{"", "0x", "0xzz", "0x" + repeat("ff", 33)} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
	assert.Panics(t, func() { MustParseAddress("nope") })
}

func TestKeyRoundTrip(t *testing.T) {
	addr := MustParseAddress("0xbeef")
	for _, key := range []Key{
		CodeKey(addr, "coin"),
		ResourceKey(addr, "0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>"),
	} {
		parsed, err := ParseKey(key.String())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	}

	for _, bad := range []string{"coin", "module:0x1::m", "code:0x1", "code:0x1::", "code:xyz::m"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestKeyCompare(t *testing.T) {
	a := MustParseAddress("0x1")
	b := MustParseAddress("0x2")

	assert.Zero(t, CodeKey(a, "m").Compare(CodeKey(a, "m")))
	assert.Negative(t, ResourceKey(b, "m").Compare(CodeKey(a, "m")), "resources sort before code")
	assert.Negative(t, CodeKey(a, "z").Compare(CodeKey(b, "a")))
	assert.Positive(t, CodeKey(a, "b").Compare(CodeKey(a, "a")))
}

func TestKeyHash(t *testing.T) {
	addr := MustParseAddress("0x1")
	code := CodeKey(addr, "m")
	data := ResourceKey(addr, "m")

	assert.Equal(t, code.Hash64(42), CodeKey(addr, "m").Hash64(42))
	assert.NotEqual(t, code.Hash64(42), data.Hash64(42), "kind is part of the hash")
	assert.NotEqual(t, code.Hash64(1), code.Hash64(2), "seed changes the hash")

	// the path length prefix keeps the encodings unambiguous
	assert.NotEqual(t, CodeKey(addr, "ab").Bytes(), CodeKey(addr, "a").Bytes())
	assert.True(t, code.IsCode())
	assert.False(t, data.IsCode())
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
