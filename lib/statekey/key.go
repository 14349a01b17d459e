// Package statekey provides the concrete key and value types used with the
// mvcc stores: access paths that address either a published code module or a
// data resource of an account, and opaque blobs hashed with SHA3-256.
package statekey

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
)

// AddressLength is the length of an account address in bytes
const AddressLength = 32

// Address identifies an account
type Address [AddressLength]byte

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ParseAddress parses a hex address with optional 0x prefix.
// Short addresses are left padded with zeros ("0x1" is the core address).
func ParseAddress(s string) (Address, error) {
	var addr Address

	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(s) == 0 || len(s) > 2*AddressLength {
		return addr, errors.Newf("statekey: invalid address length %d", len(s))
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, errors.Wrapf(err, "statekey: invalid address %q", s)
	}
	copy(addr[AddressLength-len(raw):], raw)
	return addr, nil
}

// MustParseAddress is ParseAddress for constants, it panics on error
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Kind distinguishes code keys from data keys
type Kind uint8

const (
	KindResource Kind = iota // Data resource of an account
	KindCode                 // Published code module of an account
)

func (k Kind) String() string {
	switch k {
	case KindResource:
		return "resource"
	case KindCode:
		return "code"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Key
// --------------------------------------------------------------------------

// Key is an access path: the account address, the kind and the path within
// the account (module name for code, resource type tag for data).
// Keys are comparable and can be used as map keys directly.
type Key struct {
	Kind    Kind
	Address Address
	Path    string
}

// CodeKey returns the key of a code module
func CodeKey(addr Address, module string) Key {
	return Key{Kind: KindCode, Address: addr, Path: module}
}

// ResourceKey returns the key of a data resource
func ResourceKey(addr Address, resource string) Key {
	return Key{Kind: KindResource, Address: addr, Path: resource}
}

// IsCode reports whether the key addresses a code module
func (k Key) IsCode() bool {
	return k.Kind == KindCode
}

// Compare orders keys by kind, address and path
func (k Key) Compare(other Key) int {
	if c := cmp.Compare(k.Kind, other.Kind); c != 0 {
		return c
	}
	if c := bytes.Compare(k.Address[:], other.Address[:]); c != 0 {
		return c
	}
	return strings.Compare(k.Path, other.Path)
}

// Hash64 returns a seeded murmur3 hash of the encoded key
func (k Key) Hash64(seed uint64) uint64 {
	return murmur3.Sum64WithSeed(k.Bytes(), uint32(seed)) ^ seed
}

// Bytes encodes the key as kind | address | path length | path
func (k Key) Bytes() []byte {
	buf := make([]byte, 0, 1+AddressLength+4+len(k.Path))
	buf = append(buf, byte(k.Kind))
	buf = append(buf, k.Address[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k.Path)))
	buf = append(buf, k.Path...)
	return buf
}

// String formats the key as kind:address::path
func (k Key) String() string {
	return k.Kind.String() + ":" + k.Address.String() + "::" + k.Path
}

// ParseKey parses the output of Key.String
func ParseKey(s string) (Key, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, errors.Newf("statekey: missing kind in %q", s)
	}

	var key Key
	switch kind {
	case "code":
		key.Kind = KindCode
	case "resource":
		key.Kind = KindResource
	default:
		return Key{}, errors.Newf("statekey: unknown kind %q", kind)
	}

	addr, path, ok := strings.Cut(rest, "::")
	if !ok || path == "" {
		return Key{}, errors.Newf("statekey: missing path in %q", s)
	}

	var err error
	if key.Address, err = ParseAddress(addr); err != nil {
		return Key{}, err
	}
	key.Path = path
	return key, nil
}
