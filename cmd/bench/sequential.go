package bench

import (
	"github.com/ValentinKolb/mvkv/lib/statekey"
	"golang.org/x/crypto/sha3"
)

// executeSequential runs txns one after another on a plain map and returns
// the state after the block. It is the reference the parallel execution is
// checked against.
func executeSequential(state map[statekey.Key]statekey.Blob, txns []*txn, height uint64) map[statekey.Key]statekey.Blob {
	next := make(map[statekey.Key]statekey.Blob, len(state))
	for key, value := range state {
		next[key] = value
	}

	for _, t := range txns {
		h := sha3.New256()
		for _, key := range t.reads {
			h.Write(key.Bytes())
			h.Write(observe(key, next))
		}
		digest := h.Sum(nil)

		for n, key := range t.writes {
			if !t.skip[n] {
				next[key] = outputValue(key, height, t.idx, digest)
			}
		}
	}

	return next
}

// observe returns what a transaction sees when reading key from state
func observe(key statekey.Key, state map[statekey.Key]statekey.Blob) []byte {
	blob, ok := state[key]
	if !ok {
		return nil
	}
	if !key.IsCode() {
		return blob.Bytes()
	}
	module, err := blob.ToExecutable()
	if err != nil {
		return nil
	}
	return contentOf(module)
}
