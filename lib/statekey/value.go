package statekey

import (
	"bytes"
	"encoding/binary"

	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/sha3"
)

// moduleMagic prefixes serialized modules
var moduleMagic = []byte("MVMOD\x00")

var (
	// ErrEmptyModule is returned when converting an empty blob
	ErrEmptyModule = errors.New("statekey: empty module")
	// ErrMalformedModule is returned when a blob is not a serialized module
	ErrMalformedModule = errors.New("statekey: malformed module")
)

// --------------------------------------------------------------------------
// Blob (write payload)
// --------------------------------------------------------------------------

// Blob is an immutable write payload. The content hash is computed when the
// blob is created, so sharing a Blob between goroutines is safe.
type Blob struct {
	data []byte
	hash mvcc.Hash
}

// NewBlob copies data and hashes it
func NewBlob(data []byte) Blob {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Blob{data: cp, hash: sha3.Sum256(cp)}
}

// ContentHash returns the SHA3-256 hash of the content
func (b Blob) ContentHash() mvcc.Hash {
	return b.hash
}

// Bytes returns a copy of the content
func (b Blob) Bytes() []byte {
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp
}

// Len returns the content length
func (b Blob) Len() int {
	return len(b.data)
}

// Equal compares the content of two blobs
func (b Blob) Equal(other Blob) bool {
	return b.hash == other.hash && bytes.Equal(b.data, other.data)
}

func (b Blob) String() string {
	return string(b.data)
}

// ToExecutable deserializes the blob into a module
func (b Blob) ToExecutable() (*Module, error) {
	return DecodeModule(b.data)
}

// --------------------------------------------------------------------------
// Module (executable)
// --------------------------------------------------------------------------

// Module is the executable derived from a code blob. Modules are immutable and
// shared by pointer between goroutines and blocks.
type Module struct {
	Name string
	Code []byte
	Hash mvcc.Hash
}

// EncodeModule serializes a module as magic | name length | name | code
func EncodeModule(name string, code []byte) []byte {
	buf := make([]byte, 0, len(moduleMagic)+4+len(name)+len(code))
	buf = append(buf, moduleMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(name)))
	buf = append(buf, name...)
	buf = append(buf, code...)
	return buf
}

// DecodeModule parses a serialized module. Blobs without the module header are
// accepted as anonymous modules, so plain data can be cached as well.
func DecodeModule(data []byte) (*Module, error) {
	if len(data) == 0 {
		return nil, ErrEmptyModule
	}

	hash := mvcc.Hash(sha3.Sum256(data))

	if !bytes.HasPrefix(data, moduleMagic) {
		code := make([]byte, len(data))
		copy(code, data)
		return &Module{Code: code, Hash: hash}, nil
	}

	rest := data[len(moduleMagic):]
	if len(rest) < 4 {
		return nil, errors.Wrap(ErrMalformedModule, "missing name length")
	}
	nameLen := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	if uint64(nameLen) > uint64(len(rest)) {
		return nil, errors.Wrapf(ErrMalformedModule, "name length %d exceeds payload", nameLen)
	}

	code := make([]byte, len(rest)-int(nameLen))
	copy(code, rest[nameLen:])
	return &Module{
		Name: string(rest[:nameLen]),
		Code: code,
		Hash: hash,
	}, nil
}
